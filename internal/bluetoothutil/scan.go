package bluetoothutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const defaultScanDuration = 10 * time.Second

// ScanDevice is one advertiser seen during a BLE scan.
type ScanDevice struct {
	Name           string
	Address        string
	RSSI           int
	HasUARTService bool
}

// Scanner discovers BLE UART bridges that are not paired yet.
type Scanner struct {
	scanDuration time.Duration
	mu           sync.Mutex
}

func NewScanner(scanDuration time.Duration) *Scanner {
	if scanDuration <= 0 {
		scanDuration = defaultScanDuration
	}
	return &Scanner{scanDuration: scanDuration}
}

func (s *Scanner) Scan(ctx context.Context, adapterID string) ([]ScanDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapter := ResolveAdapter(adapterID)
	if err := EnableAdapter(adapter); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	if err := StopScan(adapter); err != nil {
		return nil, fmt.Errorf("reset bluetooth scan state: %w", err)
	}

	scanCtx := ctx
	if _, hasDeadline := scanCtx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(scanCtx, s.scanDuration)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		devices = make(map[string]ScanDevice)
	)
	scanErrCh := make(chan error, 1)

	go func() {
		scanErrCh <- runScan(adapter, func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			entry := scanDeviceFromResult(result)
			if entry.Address == "" {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			devices[entry.Address] = mergeScanDevice(devices[entry.Address], entry)
		})
	}()

	if err := awaitScanCompletion(scanCtx, adapter, scanErrCh); err != nil {
		return nil, err
	}

	mu.Lock()
	result := make([]ScanDevice, 0, len(devices))
	for _, device := range devices {
		result = append(result, device)
	}
	mu.Unlock()

	SortScanDevices(result)
	return result, nil
}

func StopScan(adapter *bluetooth.Adapter) error {
	err := adapter.StopScan()
	if err != nil && !IsBenignStopScanError(err) {
		return err
	}

	return nil
}

func NormalizeScanError(err error) error {
	if err == nil || IsBenignStopScanError(err) {
		return nil
	}

	return err
}

func runScan(adapter *bluetooth.Adapter, callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := adapter.Scan(callback)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsScanAlreadyInProgressError(err) {
			return err
		}
		if stopErr := StopScan(adapter); stopErr != nil {
			return errors.Join(err, fmt.Errorf("stop stale bluetooth scan: %w", stopErr))
		}
	}
	return lastErr
}

func awaitScanCompletion(ctx context.Context, adapter *bluetooth.Adapter, scanErrCh <-chan error) error {
	select {
	case err := <-scanErrCh:
		if err = NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := StopScan(adapter); err != nil {
			return fmt.Errorf("stop bluetooth scan: %w", err)
		}
		err := <-scanErrCh
		if err = NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		// The scan window elapsing is the normal way a scan ends.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return ctx.Err()
	}
}

func scanDeviceFromResult(result bluetooth.ScanResult) ScanDevice {
	return ScanDevice{
		Name:           strings.TrimSpace(result.LocalName()),
		Address:        strings.ToUpper(strings.TrimSpace(result.Address.String())),
		RSSI:           int(result.RSSI),
		HasUARTService: result.HasServiceUUID(UARTServiceUUID()),
	}
}

func mergeScanDevice(existing, next ScanDevice) ScanDevice {
	if existing.Address == "" {
		return next
	}
	merged := existing
	if len(next.Name) > len(merged.Name) {
		merged.Name = next.Name
	}
	if next.RSSI > merged.RSSI {
		merged.RSSI = next.RSSI
	}
	merged.HasUARTService = merged.HasUARTService || next.HasUARTService

	return merged
}

// SortScanDevices puts UART bridges first, then the strongest signal.
func SortScanDevices(devices []ScanDevice) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HasUARTService != devices[j].HasUARTService {
			return devices[i].HasUARTService
		}
		if devices[i].RSSI != devices[j].RSSI {
			return devices[i].RSSI > devices[j].RSSI
		}

		leftName := strings.ToLower(devices[i].Name)
		rightName := strings.ToLower(devices[j].Name)
		if leftName != rightName {
			return leftName < rightName
		}

		return devices[i].Address < devices[j].Address
	})
}
