// Package adapter defines the boundary for forwarding envelopes to
// downstream systems.
//
// The hook forwards each envelope to a bridge over HTTP (webhook); the
// bridge announces each ingested envelope on a Redis channel (redis).
package adapter

import (
	"context"

	"github.com/pithecene-io/zotel/types"
)

// Notification is the compact announcement published when an envelope is
// ingested. Subscribers fetch the full record with GET /query.
type Notification struct {
	EventID   string   `json:"event_id"`
	EventType string   `json:"event_type"`
	RunID     string   `json:"run_id"`
	SessionID string   `json:"session_id"`
	WorkerID  string   `json:"worker_id,omitempty"`
	Ts        string   `json:"ts"`
	Hash      string   `json:"hash"`
	Level     string   `json:"level"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// NotificationFor summarizes env.
func NotificationFor(env *types.EventEnvelope) Notification {
	n := Notification{
		EventID:   env.EventID,
		EventType: string(env.EventType),
		RunID:     env.RunID,
		SessionID: env.SessionID,
		WorkerID:  env.WorkerID,
		Ts:        env.Ts,
		Hash:      env.Hash,
		Level:     string(env.Level),
	}
	for _, ref := range env.ArtifactRefs {
		n.Artifacts = append(n.Artifacts, ref.Path)
	}
	return n
}

// Adapter delivers envelopes to a downstream system.
type Adapter interface {
	// Publish delivers env. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, env *types.EventEnvelope) error

	// Close releases adapter resources.
	Close() error
}
