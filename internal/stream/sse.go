package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Frame is one server-sent event.
type Frame struct {
	// Event is empty for unnamed (model delta) frames.
	Event string
	Data  string
}

// Delta returns the content delta carried by an unnamed model frame.
func (f Frame) Delta() (string, bool) {
	if f.Event != "" || f.Data == doneToken {
		return "", false
	}
	if !gjson.Valid(f.Data) {
		return "", false
	}
	choice := gjson.Get(f.Data, "choices.0")
	if !choice.Exists() {
		return "", false
	}
	return choice.Get("delta.content").String(), true
}

func (f Frame) IsDone() bool { return f.Event == "" && f.Data == doneToken }

// Decode reads SSE frames from r and calls fn for each one. A frame ends at a
// blank line; a data line with no event name is also emitted on its own so
// that model streams without blank separators still decode.
func Decode(r io.Reader, fn func(Frame) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		event string
		data  []string
	)
	emit := func() error {
		if len(data) == 0 {
			event = ""
			return nil
		}
		f := Frame{Event: event, Data: strings.Join(data, "\n")}
		event, data = "", nil
		return fn(f)
	}

	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		switch {
		case line == "":
			if err := emit(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			if err := emit(); err != nil {
				return err
			}
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			if event == "" {
				if err := emit(); err != nil {
					return err
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return emit()
}

// WriteEvent writes a named event whose data is the JSON encoding of v, then
// flushes dst when it supports it.
func WriteEvent(dst io.Writer, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(dst, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}
	if f, ok := dst.(flusher); ok {
		f.Flush()
	}
	return nil
}
