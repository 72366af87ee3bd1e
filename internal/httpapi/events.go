package httpapi

import "net/http"

// eventWriter commits SSE headers on the first write, so a turn that fails
// before producing output can still answer with a JSON error status.
type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (e *eventWriter) start() {
	if e.started {
		return
	}
	e.started = true
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.w.WriteHeader(http.StatusOK)
}

func (e *eventWriter) Write(p []byte) (int, error) {
	e.start()
	return e.w.Write(p)
}

// Flush pushes buffered bytes to the client.
func (e *eventWriter) Flush() {
	e.start()
	e.rc.Flush()
}
