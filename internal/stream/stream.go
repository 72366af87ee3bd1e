// Package stream relays a server-sent-event model response to a caller while
// rebuilding the plain text it carries.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrAborted marks a stream that ended before the upstream finished. Nothing
// derived from an aborted stream may be persisted.
var ErrAborted = errors.New("stream aborted")

const (
	readSize  = 4096
	doneToken = "[DONE]"

	deltaPath = "choices.0.delta.content"
)

// Result is the outcome of a fully consumed stream.
type Result struct {
	// Content is the concatenated choices[0].delta.content in arrival order.
	Content   string
	Frames    int
	Malformed int
	// Done reports whether the [DONE] sentinel was seen.
	Done bool
	// Bytes forwarded to the caller.
	Bytes int64
}

type flusher interface {
	Flush()
}

// Reconstructor accumulates text from data frames fed to it chunk by chunk.
// Partial lines are held until their newline arrives.
type Reconstructor struct {
	partial []byte
	content strings.Builder
	res     Result
}

// Feed scans one chunk. Cost is linear in the chunk plus any held partial line.
func (r *Reconstructor) Feed(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			r.partial = append(r.partial, chunk...)
			return
		}
		line := chunk[:i]
		if len(r.partial) > 0 {
			line = append(r.partial, line...)
			r.partial = r.partial[:0]
		}
		r.line(line)
		chunk = chunk[i+1:]
	}
}

func (r *Reconstructor) line(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return
	}
	r.res.Frames++
	if string(payload) == doneToken {
		r.res.Done = true
		return
	}
	if !gjson.ValidBytes(payload) {
		r.res.Malformed++
		return
	}
	r.content.WriteString(gjson.GetBytes(payload, deltaPath).String())
}

// Close parses any unterminated trailing line and returns the result.
func (r *Reconstructor) Close() Result {
	if len(r.partial) > 0 {
		r.line(r.partial)
		r.partial = nil
	}
	r.res.Content = r.content.String()
	return r.res
}

// Relay copies src to dst chunk by chunk, flushing after each write, and
// reconstructs the text from the same chunks. Any read, write or context
// failure yields an error wrapping ErrAborted.
func Relay(ctx context.Context, src io.Reader, dst io.Writer) (Result, error) {
	var (
		rc   Reconstructor
		buf  = make([]byte, readSize)
		fl   flusher
		sent int64
	)
	if f, ok := dst.(flusher); ok {
		fl = f
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			w, err := dst.Write(chunk)
			sent += int64(w)
			if err != nil {
				return Result{}, fmt.Errorf("%w: forward: %w", ErrAborted, err)
			}
			if fl != nil {
				fl.Flush()
			}
			rc.Feed(chunk)
		}
		if readErr == io.EOF {
			res := rc.Close()
			res.Bytes = sent
			return res, nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, fmt.Errorf("%w: %w", ErrAborted, ctxErr)
			}
			return Result{}, fmt.Errorf("%w: read: %w", ErrAborted, readErr)
		}
	}
}
