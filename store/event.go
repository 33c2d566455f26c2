package store

// ChangeOp identifies the kind of row change carried by a ChangeEvent.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// ChangeEvent describes one row change. New is nil for deletes; Old is nil for inserts.
type ChangeEvent struct {
	Table string   `json:"table"`
	Op    ChangeOp `json:"op"`
	New   Row      `json:"new,omitempty"`
	Old   Row      `json:"old,omitempty"`
}

// Row returns the row a subscription filter should be evaluated against.
func (e ChangeEvent) Row() Row {
	if e.Op == OpDelete {
		return e.Old
	}
	return e.New
}

// Handler receives change events.
type Handler func(ChangeEvent)

// Feed carries change events from the writer of a store to its subscribers.
type Feed interface {
	Publish(ev ChangeEvent) error
	Subscribe(table string, filters []Filter, handler Handler) (Subscription, error)
	Close() error
}
