package platform

import (
	"errors"
	"strings"
)

// ErrLinkBusy indicates another process already drives the same device link.
var ErrLinkBusy = errors.New("device link held by another process")

// ErrLinkLockUnsupported indicates the current platform has no lock backend implementation.
var ErrLinkLockUnsupported = errors.New("link lock unsupported")

// LinkLock represents an acquired per-device link lock.
type LinkLock interface {
	Release() error
}

// AcquireLinkLock takes an exclusive, non-blocking lock scoped to appID and
// device. A second process asking for the same pair gets ErrLinkBusy.
func AcquireLinkLock(appID, device string) (LinkLock, error) {
	return acquireLinkLock(
		normalizeLockComponent(appID, "app"),
		normalizeLockComponent(device, "device"),
	)
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
