package natsfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dhamidi/skillswap/store"
)

// Value kinds on the wire. Rows carry time values, which JSON alone would
// turn into strings, so every value is tagged with its Go type.
const (
	kindNull     = "null"
	kindString   = "string"
	kindTime     = "time"
	kindNullTime = "ntime"
)

type wireValue struct {
	Kind  string `json:"k"`
	Value string `json:"v,omitempty"`
}

type wireEvent struct {
	Table string               `json:"table"`
	Op    store.ChangeOp       `json:"op"`
	New   map[string]wireValue `json:"new,omitempty"`
	Old   map[string]wireValue `json:"old,omitempty"`
}

// Encode serializes a change event for the wire.
func Encode(ev store.ChangeEvent) ([]byte, error) {
	w := wireEvent{Table: ev.Table, Op: ev.Op}
	var err error
	if w.New, err = encodeRow(ev.New); err != nil {
		return nil, fmt.Errorf("encode %s event on %s: %w", ev.Op, ev.Table, err)
	}
	if w.Old, err = encodeRow(ev.Old); err != nil {
		return nil, fmt.Errorf("encode %s event on %s: %w", ev.Op, ev.Table, err)
	}
	return json.Marshal(w)
}

// Decode parses an event produced by Encode.
func Decode(data []byte) (store.ChangeEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return store.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if w.Table == "" {
		return store.ChangeEvent{}, fmt.Errorf("decode change event: missing table")
	}
	switch w.Op {
	case store.OpInsert, store.OpUpdate, store.OpDelete:
	default:
		return store.ChangeEvent{}, fmt.Errorf("decode change event: unknown op %q", w.Op)
	}
	ev := store.ChangeEvent{Table: w.Table, Op: w.Op}
	var err error
	if ev.New, err = decodeRow(w.New); err != nil {
		return store.ChangeEvent{}, err
	}
	if ev.Old, err = decodeRow(w.Old); err != nil {
		return store.ChangeEvent{}, err
	}
	return ev, nil
}

func encodeRow(r store.Row) (map[string]wireValue, error) {
	if r == nil {
		return nil, nil
	}
	out := make(map[string]wireValue, len(r))
	for col, v := range r {
		switch t := v.(type) {
		case nil:
			out[col] = wireValue{Kind: kindNull}
		case string:
			out[col] = wireValue{Kind: kindString, Value: t}
		case time.Time:
			out[col] = wireValue{Kind: kindTime, Value: t.UTC().Format(time.RFC3339Nano)}
		case *time.Time:
			if t == nil {
				out[col] = wireValue{Kind: kindNullTime}
				continue
			}
			out[col] = wireValue{Kind: kindNullTime, Value: t.UTC().Format(time.RFC3339Nano)}
		default:
			return nil, fmt.Errorf("column %s: unsupported value type %T", col, v)
		}
	}
	return out, nil
}

func decodeRow(w map[string]wireValue) (store.Row, error) {
	if w == nil {
		return nil, nil
	}
	r := make(store.Row, len(w))
	for col, v := range w {
		switch v.Kind {
		case kindNull:
			r[col] = nil
		case kindString:
			r[col] = v.Value
		case kindTime:
			t, err := time.Parse(time.RFC3339Nano, v.Value)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			r[col] = t
		case kindNullTime:
			if v.Value == "" {
				r[col] = (*time.Time)(nil)
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, v.Value)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			r[col] = &t
		default:
			return nil, fmt.Errorf("column %s: unknown value kind %q", col, v.Kind)
		}
	}
	return r, nil
}
