// Package modelcall defines the model-call collaborator port.
package modelcall

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrRateLimited is returned by clients when the upstream model rejects
// the call for rate or spend reasons. The runner classifies it
// separately from ordinary faults so the dispatch layer can back off.
var ErrRateLimited = errors.New("model call rate limited")

// Prompt is the single structured payload assembled from a task request:
// the agent's system prompt plus every provided context blob.
type Prompt struct {
	System    string            `json:"system"`
	Input     string            `json:"input,omitempty"`
	Claims    []json.RawMessage `json:"claims,omitempty"`
	Leads     []json.RawMessage `json:"leads,omitempty"`
	Documents []json.RawMessage `json:"documents,omitempty"`
	Memories  []json.RawMessage `json:"memories,omitempty"`
	// Format is the caller's output-format instruction, verbatim.
	Format string `json:"format,omitempty"`
}

// Completion is one model response.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the port interface for the underlying model call.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}
