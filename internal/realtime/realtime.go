// Package realtime is the row-change feed the conversation layer folds
// into its state. The backing transport promises at-least-once, in-order
// delivery per subscription; nothing here deduplicates.
package realtime

import "encoding/json"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

type (
	// Filter narrows a subscription to rows with a column equal to a
	// value.
	Filter struct {
		Column string `json:"column"`
		Value  string `json:"value"`
	}

	Subscription struct {
		Table  string      `json:"table"`
		Events []EventType `json:"events"`
		Filter *Filter     `json:"filter,omitempty"`
	}

	// ChangeEvent is one committed row change. Record carries the new row
	// for INSERT/UPDATE; OldRecord carries the previous row for
	// UPDATE/DELETE.
	ChangeEvent struct {
		Type      EventType       `json:"type"`
		Table     string          `json:"table"`
		Record    json.RawMessage `json:"record,omitempty"`
		OldRecord json.RawMessage `json:"old_record,omitempty"`
	}

	Handler func(ChangeEvent)
)

// Feed hands row-change events to per-subscription handlers. Subscribe and
// Unsubscribe are explicit paired operations.
type Feed interface {
	Subscribe(sub Subscription, fn Handler) (string, error)
	Unsubscribe(id string) error
}
