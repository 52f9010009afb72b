package main

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/skobkin/btrover/internal/domain"
)

type keyAction int

const (
	keyIgnore keyAction = iota
	keyMove
	keyTelemetry
	keyConnect
	keyClose
	keyQuit
	keyHelp
	keyUnknown
)

type keyPress struct {
	action keyAction
	cmd    domain.Command
	raw    rune
}

func parseKey(r rune) keyPress {
	r = unicode.ToLower(r)
	if unicode.IsSpace(r) {
		return keyPress{action: keyIgnore, raw: r}
	}
	if r < unicode.MaxASCII {
		if cmd := domain.Command(byte(r)); cmd.Valid() {
			return keyPress{action: keyMove, cmd: cmd, raw: r}
		}
	}

	switch r {
	case rune(domain.TelemetryQuery):
		return keyPress{action: keyTelemetry, raw: r}
	case 'c':
		return keyPress{action: keyConnect, raw: r}
	case 'x':
		return keyPress{action: keyClose, raw: r}
	case 'q':
		return keyPress{action: keyQuit, raw: r}
	case '?', 'h':
		return keyPress{action: keyHelp, raw: r}
	default:
		return keyPress{action: keyUnknown, raw: r}
	}
}

// parseKeys splits an input line into key presses, dropping whitespace.
func parseKeys(line string) []keyPress {
	presses := make([]keyPress, 0, len(line))
	for _, r := range line {
		press := parseKey(r)
		if press.action == keyIgnore {
			continue
		}
		presses = append(presses, press)
	}

	return presses
}

func keyHelpText() string {
	var b strings.Builder
	b.WriteString("keys (press Enter to send):\n")
	for _, cmd := range domain.MovementCommands() {
		fmt.Fprintf(&b, "  %c  %s\n", byte(cmd), cmd)
	}
	fmt.Fprintf(&b, "  %c  request telemetry\n", domain.TelemetryQuery)
	b.WriteString("  c  connect / reconnect\n")
	b.WriteString("  x  close link\n")
	b.WriteString("  q  quit\n")

	return b.String()
}
