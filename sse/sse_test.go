package sse_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/coordinator"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/sse"
)

func TestHandlerStreamsEnvelopesAndClosesOnChannelClose(t *testing.T) {
	ch := make(chan hooks.Envelope, 2)
	ch <- hooks.Envelope{Type: hooks.TypeRunCreated, RunID: "run_1"}
	close(ch)

	req := httptest.NewRequest(http.MethodGet, "/runs/run_1/events", nil)
	rec := httptest.NewRecorder()

	err := sse.Handler(rec, req, coordinator.EventStream(ch))
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, ": connected")
	assert.Contains(t, body, "event: "+string(hooks.TypeRunCreated))
	assert.Contains(t, body, "event: done")
}

func TestHandlerReturnsErrorWithoutFlusher(t *testing.T) {
	ch := make(chan hooks.Envelope)
	close(ch)

	req := httptest.NewRequest(http.MethodGet, "/runs/run_1/events", nil)
	rec := &nonFlushingWriter{header: make(http.Header)}

	err := sse.Handler(rec, req, coordinator.EventStream(ch))
	require.Error(t, err)
}

type nonFlushingWriter struct {
	header http.Header
	body   strings.Builder
	status int
}

func (w *nonFlushingWriter) Header() http.Header         { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
func (w *nonFlushingWriter) WriteHeader(statusCode int)  { w.status = statusCode }
