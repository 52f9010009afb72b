package domain

import "context"

type TelemetryRepository interface {
	Insert(ctx context.Context, rec TelemetryRecord) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]TelemetryRecord, error)
	Prune(ctx context.Context, keep int) (int64, error)
}
