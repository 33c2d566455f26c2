package sqlitestore

import (
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Table names.
const (
	TableProfiles      = "profiles"
	TableConversations = "conversations"
	TableMessages      = "messages"
)

type kind int

const (
	kindText kind = iota
	kindNullText
	kindTime
	kindNullTime
)

type column struct {
	name string
	kind kind
}

// child is a table whose rows are removed by ON DELETE CASCADE.
type child struct {
	table  string
	column string
}

type tableDef struct {
	name     string
	columns  []column
	touch    []string // time columns set to now on insert when absent
	children []child
}

func (t tableDef) column(name string) (column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func (t tableDef) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

var tables = map[string]tableDef{
	TableProfiles: {
		name: TableProfiles,
		columns: []column{
			{"id", kindText},
			{"username", kindNullText},
			{"first_name", kindNullText},
			{"last_name", kindNullText},
			{"avatar_url", kindNullText},
			{"created_at", kindTime},
		},
		touch: []string{"created_at"},
	},
	TableConversations: {
		name: TableConversations,
		columns: []column{
			{"id", kindText},
			{"participant_a", kindText},
			{"participant_b", kindText},
			{"created_at", kindTime},
			{"updated_at", kindTime},
		},
		touch:    []string{"created_at", "updated_at"},
		children: []child{{table: TableMessages, column: "conversation_id"}},
	},
	TableMessages: {
		name: TableMessages,
		columns: []column{
			{"id", kindText},
			{"conversation_id", kindText},
			{"sender_id", kindText},
			{"content", kindText},
			{"created_at", kindTime},
			{"read_at", kindNullTime},
		},
		touch: []string{"created_at"},
	},
}

func lookupTable(name string) (tableDef, error) {
	def, ok := tables[name]
	if !ok {
		return tableDef{}, fmt.Errorf("sqlitestore: unknown table %q", name)
	}
	return def, nil
}
