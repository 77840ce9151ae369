// Package notify routes user-facing notifications to the surfaces that
// display them.
package notify

import (
	"strings"
	"sync"
	"time"
)

// Variant selects how a notification is presented.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Topics published by the gateway.
const (
	TopicChat      = "chat."
	TopicAnalysis  = "analysis."
	TopicSelection = "selection."
)

type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Variant     Variant   `json:"variant"`
	At          time.Time `json:"at"`
}

// Error builds a destructive notification from err.
func Error(title string, err error) Notification {
	n := Notification{Title: title, Variant: VariantDestructive, At: time.Now()}
	if err != nil {
		n.Description = err.Error()
	}
	return n
}

// Destructive builds a destructive notification with a fixed description.
func Destructive(title, description string) Notification {
	return Notification{Title: title, Description: description, Variant: VariantDestructive, At: time.Now()}
}

// Info builds a default notification.
func Info(title, description string) Notification {
	return Notification{Title: title, Description: description, Variant: VariantDefault, At: time.Now()}
}

// Sink receives notifications published under a topic.
type Sink func(topic string, n Notification)

// Registry routes notifications to sinks by topic prefix (e.g. "chat.",
// "analysis.").
type Registry struct {
	mu    sync.RWMutex
	sinks []entry
}

type entry struct {
	prefix string
	sink   Sink
}

// NewRegistry creates an empty notification registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a sink for topics starting with prefix. An empty prefix
// matches every topic.
func (r *Registry) Register(prefix string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, entry{prefix: prefix, sink: sink})
}

// Publish calls every sink whose prefix matches topic and reports how many
// received it. Publishing with no matching sink drops the notification.
func (r *Registry) Publish(topic string, n Notification) int {
	if r == nil {
		return 0
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	r.mu.RLock()
	matched := make([]Sink, 0, len(r.sinks))
	for _, e := range r.sinks {
		if strings.HasPrefix(topic, e.prefix) {
			matched = append(matched, e.sink)
		}
	}
	r.mu.RUnlock()

	for _, sink := range matched {
		sink(topic, n)
	}
	return len(matched)
}
