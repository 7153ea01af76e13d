// Package ids generates the identifiers used throughout a run: threads,
// messages, runs, and tool calls all share the same prefixed-UUID shape so
// they remain visually distinguishable in logs and event payloads.
package ids

import "github.com/google/uuid"

// New returns a fresh UUIDv4 string with the given prefix, e.g. "thread_...".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// Thread generates a new thread identifier.
func Thread() string { return New("thread") }

// Message generates a new message identifier.
func Message() string { return New("msg") }

// Run generates a new agent run identifier.
func Run() string { return New("run") }

// ToolCall generates a new tool call identifier.
func ToolCall() string { return New("call") }

// Step generates a new run-step identifier.
func Step() string { return New("step") }
