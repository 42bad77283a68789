package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampFormat is the capture time layout shown in the header line.
const TimestampFormat = "2006/01/02 03:04:05.000000 PM"

const defaultWidth = 80

// Separator is the divider drawn above every message.
func Separator(width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	return strings.Repeat("-", width)
}

// Header is the "display | timestamp" line.
func Header(display string, ts time.Time) string {
	return fmt.Sprintf("%s | %s", display, ts.Local().Format(TimestampFormat))
}

// Pretty re-indents a JSON payload with two spaces. It is idempotent on its
// own output.
func Pretty(payload string) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(payload)), "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render turns one message into buffer lines: separator, header, then the
// payload split on newlines. When pretty is set and the payload is not valid
// JSON the raw payload is rendered and the parse error returned.
func Render(display string, ts time.Time, payload string, pretty bool, width int) ([]string, error) {
	lines := []string{Separator(width), Header(display, ts)}

	body := payload
	var err error
	if pretty {
		var formatted string
		formatted, err = Pretty(payload)
		if err == nil {
			body = formatted
		}
	}
	return append(lines, strings.Split(body, "\n")...), err
}
