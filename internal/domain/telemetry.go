package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const telemetryFieldSeparator = ","

// ErrMalformedPayload marks a frame that does not hold exactly two telemetry fields.
var ErrMalformedPayload = errors.New("malformed telemetry payload")

// ParseTelemetry splits a frame payload into temperature and humidity.
func ParseTelemetry(payload []byte) (TelemetryReading, error) {
	if !utf8.Valid(payload) {
		return TelemetryReading{}, fmt.Errorf("%w: payload is not valid text", ErrMalformedPayload)
	}

	fields := strings.Split(string(payload), telemetryFieldSeparator)
	if len(fields) != 2 {
		return TelemetryReading{}, fmt.Errorf("%w: expected 2 fields, got %d in %q", ErrMalformedPayload, len(fields), payload)
	}

	temperature := strings.TrimSpace(fields[0])
	humidity := strings.TrimSpace(fields[1])
	if temperature == "" || humidity == "" {
		return TelemetryReading{}, fmt.Errorf("%w: empty field in %q", ErrMalformedPayload, payload)
	}

	return TelemetryReading{Temperature: temperature, Humidity: humidity}, nil
}
