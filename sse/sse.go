// Package sse wraps a coordinator.EventStream as a text/event-stream HTTP
// response, grounded on the teacher pack's SSE broker handler: set the SSE
// headers, flush an initial comment so EventSource fires onopen, flush a
// periodic heartbeat comment, and flush one "event: <type>\ndata: <json>\n\n"
// frame per envelope until the stream closes or the request context is
// cancelled.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ulifeai/agentb/coordinator"
)

// HeartbeatInterval is how often a comment-only keepalive frame is sent
// while no run event is pending.
const HeartbeatInterval = 30 * time.Second

// Handler streams stream to w as Server-Sent Events until it closes or the
// request is cancelled. Returns an error only if the response writer does
// not support flushing (http.Flusher).
func Handler(w http.ResponseWriter, r *http.Request, stream coordinator.EventStream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case envelope, ok := <-stream:
			if !ok {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return nil
			}
			data, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", envelope.Type, data)
			flusher.Flush()
		}
	}
}
