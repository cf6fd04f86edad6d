package testutil

import (
	"context" // Notifier contract
	"sync"    // Concurrent recording
)

// Notification is one recorded call
type Notification struct {
	UserID  uint
	Type    string
	Payload map[string]any
}

// RecordingNotifier captures notifications synchronously
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

// Notify records the call
func (r *RecordingNotifier) Notify(_ context.Context, userID uint, eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{UserID: userID, Type: eventType, Payload: payload})
}

// OfType returns the recorded notifications of one event type
func (r *RecordingNotifier) OfType(eventType string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Type == eventType {
			out = append(out, n)
		}
	}
	return out
}
