package bluetoothutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/skobkin/btrover/internal/domain"
)

// RadioProbe reports whether the local Bluetooth radio can carry a link.
type RadioProbe struct {
	adapterID string
	enable    func(adapterID string) error
	powered   func(ctx context.Context, adapterID string) (bool, error)
}

func NewRadioProbe(adapterID string) *RadioProbe {
	return &RadioProbe{
		adapterID: strings.TrimSpace(adapterID),
		enable: func(adapterID string) error {
			return EnableAdapter(ResolveAdapter(adapterID))
		},
		powered: adapterPowered,
	}
}

func (p *RadioProbe) Probe(ctx context.Context) (domain.RadioStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RadioMissing, err
	}
	if err := p.enable(p.adapterID); err != nil {
		return domain.RadioMissing, fmt.Errorf("enable bluetooth adapter %q: %w", adapterName(p.adapterID), err)
	}

	powered, err := p.powered(ctx, p.adapterID)
	if err != nil {
		if isAdapterMissingError(err) {
			return domain.RadioMissing, fmt.Errorf("bluetooth adapter %q: %w", adapterName(p.adapterID), err)
		}
		return domain.RadioMissing, fmt.Errorf("read adapter power state: %w", err)
	}
	if !powered {
		return domain.RadioDisabled, nil
	}

	return domain.RadioUsable, nil
}
