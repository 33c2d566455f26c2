// Package sqlitestore implements store.Store on top of SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/dhamidi/skillswap/realtime"
	"github.com/dhamidi/skillswap/store"
)

// DefaultDatabasePath is where the CLI keeps its database unless configured otherwise.
var DefaultDatabasePath = ".skillswap/skillswap.db"

// Store is a store.Store backed by a SQLite database file.
// Change events are published to its feed after each committed write.
type Store struct {
	db       *sql.DB
	feed     store.Feed
	ownsFeed bool
	logger   *slog.Logger
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithFeed publishes and subscribes through feed instead of a private in-process broker.
// The caller keeps ownership of feed.
func WithFeed(feed store.Feed) Option {
	return func(s *Store) {
		s.feed = feed
		s.ownsFeed = false
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the clock used for generated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	// One connection serializes writers; SQLite would otherwise report SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed == nil {
		s.feed = realtime.NewBroker(realtime.WithLogger(s.logger))
		s.ownsFeed = true
	}
	return s, nil
}

// Close closes the database and, if the store created it, its feed.
func (s *Store) Close() error {
	if s.ownsFeed {
		s.feed.Close()
	}
	return s.db.Close()
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	def, err := lookupTable(q.Table)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(def, q.Filters)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(def, q.Order)
	if err != nil {
		return nil, err
	}
	suffix := order
	if q.Limit > 0 {
		suffix += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return selectRows(ctx, s.db, def, where, args, suffix)
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, table string, filters []store.Filter) (int64, error) {
	def, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(def, filters)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+def.name+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", def.name, translate(err))
	}
	return n, nil
}

// Insert implements store.Store. A missing id is generated, and missing
// timestamp columns are set to the current time.
func (s *Store) Insert(ctx context.Context, table string, row store.Row) (store.Row, error) {
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	values := make(store.Row, len(row)+2)
	for k, v := range row {
		values[k] = v
	}
	if values.String("id") == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, err
		}
		values["id"] = id.String()
	}
	now := s.now()
	for _, name := range def.touch {
		if values[name] == nil {
			values[name] = now
		}
	}

	cols := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, c := range def.columns {
		v, ok := values[c.name]
		if !ok {
			continue
		}
		enc, err := encode(c, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c.name)
		args = append(args, enc)
	}
	for k := range values {
		if _, ok := def.column(k); !ok {
			return nil, fmt.Errorf("sqlitestore: unknown column %s.%s", def.name, k)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.name, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert into %s: %w", def.name, translate(err))
	}
	inserted, err := selectRows(ctx, tx, def, " WHERE id = ?", []any{values["id"]}, "")
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(inserted) != 1 {
		tx.Rollback()
		return nil, fmt.Errorf("insert into %s: row %v not readable after insert", def.name, values["id"])
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert into %s: %w", def.name, translate(err))
	}

	s.publish(store.ChangeEvent{Table: def.name, Op: store.OpInsert, New: inserted[0]})
	return inserted[0], nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, table string, filters []store.Filter, patch store.Row) (int64, error) {
	def, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, nil
	}
	sets := make([]string, 0, len(patch))
	var setArgs []any
	for _, c := range def.columns {
		v, ok := patch[c.name]
		if !ok {
			continue
		}
		if c.name == "id" {
			return 0, fmt.Errorf("sqlitestore: %s.id is immutable", def.name)
		}
		enc, err := encode(c, v)
		if err != nil {
			return 0, err
		}
		sets = append(sets, c.name+" = ?")
		setArgs = append(setArgs, enc)
	}
	if len(sets) != len(patch) {
		return 0, fmt.Errorf("sqlitestore: patch for %s has unknown columns", def.name)
	}
	where, args, err := whereClause(def, filters)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	before, err := selectRows(ctx, tx, def, where, args, "")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if len(before) == 0 {
		tx.Rollback()
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, "UPDATE "+def.name+" SET "+strings.Join(sets, ", ")+where, append(setArgs, args...)...)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("update %s: %w", def.name, translate(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	after, err := selectRows(ctx, tx, def, idFilter(before), idArgs(before), "")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit update of %s: %w", def.name, translate(err))
	}

	old := make(map[string]store.Row, len(before))
	for _, r := range before {
		old[r.String("id")] = r
	}
	for _, r := range after {
		prev := old[r.String("id")]
		if rowsEqual(prev, r) {
			continue
		}
		s.publish(store.ChangeEvent{Table: def.name, Op: store.OpUpdate, New: r, Old: prev})
	}
	return affected, nil
}

// Delete implements store.Store. Rows removed by cascade are published as
// delete events of their own table before the parent's event.
func (s *Store) Delete(ctx context.Context, table string, filters []store.Filter) (int64, error) {
	def, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(def, filters)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	before, err := selectRows(ctx, tx, def, where, args, "")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if len(before) == 0 {
		tx.Rollback()
		return 0, nil
	}
	var events []store.ChangeEvent
	for _, ch := range def.children {
		childDef, err := lookupTable(ch.table)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		cwhere := fmt.Sprintf(" WHERE %s IN (%s)", ch.column, placeholders(len(before)))
		rows, err := selectRows(ctx, tx, childDef, cwhere, idArgs(before), "")
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		for _, r := range rows {
			events = append(events, store.ChangeEvent{Table: childDef.name, Op: store.OpDelete, Old: r})
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM "+def.name+idFilter(before), idArgs(before)...)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("delete from %s: %w", def.name, translate(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete from %s: %w", def.name, translate(err))
	}

	for _, r := range before {
		events = append(events, store.ChangeEvent{Table: def.name, Op: store.OpDelete, Old: r})
	}
	for _, ev := range events {
		s.publish(ev)
	}
	return affected, nil
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(ctx context.Context, table string, filters []store.Filter, handler store.Handler) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if _, _, err := whereClause(def, filters); err != nil {
		return nil, err
	}
	return s.feed.Subscribe(def.name, filters, handler)
}

func (s *Store) publish(ev store.ChangeEvent) {
	if err := s.feed.Publish(ev); err != nil {
		s.logger.Warn("failed to publish change event", "table", ev.Table, "op", ev.Op, "error", err)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idFilter(rows []store.Row) string {
	return " WHERE id IN (" + placeholders(len(rows)) + ")"
}

func idArgs(rows []store.Row) []any {
	args := make([]any, len(rows))
	for i, r := range rows {
		args[i] = r.String("id")
	}
	return args
}

func rowsEqual(a, b store.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		aNull := store.Match([]store.Filter{store.IsNull(k)}, a)
		bNull := store.Match([]store.Filter{store.IsNull(k)}, b)
		if aNull != bNull {
			return false
		}
		if aNull {
			continue
		}
		if !store.Match([]store.Filter{store.Eq(k, bv)}, a) {
			return false
		}
	}
	return true
}
