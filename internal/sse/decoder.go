// Package sse decodes "data:"-prefixed server-sent-event lines into JSON
// payloads. The decoder is an incremental state machine: callers feed raw
// chunks as they arrive off the wire and a partial final line that spans a
// read boundary is held as an incomplete trailing fragment until the rest
// of it arrives.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const dataPrefix = "data:"

// Event is one decoded stream line.
type Event struct {
	Raw json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Decoder accumulates bytes and emits complete events.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends a chunk and returns every event completed by it. Non-data
// lines (comments, event names, blanks) are skipped; a data line that is not
// valid JSON yields an error alongside the events decoded before it.
func (d *Decoder) Feed(p []byte) ([]Event, error) {
	d.buf.Write(p)

	var events []Event
	for {
		raw := d.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			// Incomplete trailing fragment: wait for more bytes.
			return events, nil
		}
		line := string(raw[:idx])
		d.buf.Next(idx + 1)

		event, ok, err := decodeLine(line)
		if err != nil {
			return events, err
		}
		if ok {
			events = append(events, event)
		}
	}
}

// Close drains a final unterminated line, if any. Servers normally end every
// line with a newline, so this only matters for truncated streams.
func (d *Decoder) Close() ([]Event, error) {
	if d.buf.Len() == 0 {
		return nil, nil
	}
	line := d.buf.String()
	d.buf.Reset()
	event, ok, err := decodeLine(line)
	if err != nil || !ok {
		return nil, err
	}
	return []Event{event}, nil
}

func decodeLine(line string) (Event, bool, error) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return Event{}, false, nil
	}
	if !json.Valid([]byte(payload)) {
		return Event{}, false, fmt.Errorf("sse: malformed event payload %q", truncate(payload, 80))
	}
	return Event{Raw: json.RawMessage(payload)}, true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DecodeStream reads r to EOF, invoking onEvent for every decoded event.
// Reading stops early when onEvent returns a non-nil error.
func DecodeStream(r io.Reader, onEvent func(Event) error) error {
	var d Decoder
	chunk := make([]byte, 4096)
	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			events, err := d.Feed(chunk[:n])
			for _, ev := range events {
				if cbErr := onEvent(ev); cbErr != nil {
					return cbErr
				}
			}
			if err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			events, err := d.Close()
			for _, ev := range events {
				if cbErr := onEvent(ev); cbErr != nil {
					return cbErr
				}
			}
			return err
		}
		if readErr != nil {
			return readErr
		}
	}
}
