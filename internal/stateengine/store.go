package stateengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS state_current (
	chat_name TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	value_type TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	constraints TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL,
	updated_by TEXT NOT NULL,
	turn_number INTEGER NOT NULL,
	PRIMARY KEY (chat_name, key)
);
CREATE TABLE IF NOT EXISTS state_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_name TEXT NOT NULL,
	key TEXT NOT NULL,
	old_value TEXT,
	new_value TEXT NOT NULL,
	changed_by TEXT NOT NULL,
	turn_number INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_state_log_chat_turn ON state_log(chat_name, turn_number);
`

// Store is the SQLite-backed persistence layer for state_current/state_log.
// WAL journaling is requested via the connection DSN so writes are atomic
// per call without an explicit transaction wrapper for single-row upserts.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path in WAL mode and
// ensures the schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalConstraints(c Constraints) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func unmarshalConstraints(raw string) Constraints {
	var c Constraints
	_ = json.Unmarshal([]byte(raw), &c)
	return c
}

// LoadChat returns every state_current row for chatName, keyed by key.
func (s *Store) LoadChat(ctx context.Context, chatName string) (map[string]Value, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, value_type, label, constraints, updated_at, updated_by, turn_number FROM state_current WHERE chat_name = ?`, chatName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Value)
	for rows.Next() {
		var v Value
		var updatedAt string
		var constraintsRaw string
		if err := rows.Scan(&v.Key, &v.Value, &v.ValueType, &v.Label, &constraintsRaw, &updatedAt, &v.UpdatedBy, &v.TurnNumber); err != nil {
			return nil, err
		}
		v.ChatName = chatName
		v.Constraints = unmarshalConstraints(constraintsRaw)
		v.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out[v.Key] = v
	}
	return out, rows.Err()
}

// AppendAndUpsert writes one state_log row and upserts state_current inside
// a single transaction.
func (s *Store) AppendAndUpsert(ctx context.Context, v Value, oldValue *string, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO state_log (chat_name, key, old_value, new_value, changed_by, turn_number, timestamp, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ChatName, v.Key, oldValue, v.Value, v.UpdatedBy, v.TurnNumber, v.UpdatedAt.Format(time.RFC3339Nano), reason); err != nil {
		return fmt.Errorf("append state log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO state_current (chat_name, key, value, value_type, label, constraints, updated_at, updated_by, turn_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_name, key) DO UPDATE SET value=excluded.value, value_type=excluded.value_type, label=excluded.label, constraints=excluded.constraints, updated_at=excluded.updated_at, updated_by=excluded.updated_by, turn_number=excluded.turn_number`,
		v.ChatName, v.Key, v.Value, v.ValueType, v.Label, marshalConstraints(v.Constraints), v.UpdatedAt.Format(time.RFC3339Nano), v.UpdatedBy, v.TurnNumber); err != nil {
		return fmt.Errorf("upsert state current: %w", err)
	}

	return tx.Commit()
}

// logEntry is one state_log row, used by rollback's replay.
type logEntry struct {
	Key        string
	OldValue   *string
	NewValue   string
	ChangedBy  string
	TurnNumber int
	Timestamp  time.Time
	Reason     string
}

// LogUpTo returns every state_log row for chatName with turn_number <= turn,
// ordered by id (insertion order).
func (s *Store) LogUpTo(ctx context.Context, chatName string, turn int) ([]logEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, old_value, new_value, changed_by, turn_number, timestamp, reason FROM state_log WHERE chat_name = ? AND turn_number <= ? ORDER BY id ASC`, chatName, turn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []logEntry
	for rows.Next() {
		var e logEntry
		var ts string
		if err := rows.Scan(&e.Key, &e.OldValue, &e.NewValue, &e.ChangedBy, &e.TurnNumber, &ts, &e.Reason); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TruncateAndClear removes all state_log rows for chatName with
// turn_number > turn, and clears state_current entirely for chatName (the
// caller rebuilds it by replaying the remaining log).
func (s *Store) TruncateAndClear(ctx context.Context, chatName string, turn int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_log WHERE chat_name = ? AND turn_number > ?`, chatName, turn); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_current WHERE chat_name = ?`, chatName); err != nil {
		return err
	}
	return tx.Commit()
}

// MaxTurn returns the highest turn_number logged for chatName, or 0 if none.
func (s *Store) MaxTurn(ctx context.Context, chatName string) (int, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(turn_number) FROM state_log WHERE chat_name = ?`, chatName).Scan(&max); err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// ReplaceRow directly upserts v without touching state_log, used to rebuild
// state_current from a log replay.
func (s *Store) ReplaceRow(ctx context.Context, v Value) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO state_current (chat_name, key, value, value_type, label, constraints, updated_at, updated_by, turn_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_name, key) DO UPDATE SET value=excluded.value, value_type=excluded.value_type, label=excluded.label, constraints=excluded.constraints, updated_at=excluded.updated_at, updated_by=excluded.updated_by, turn_number=excluded.turn_number`,
		v.ChatName, v.Key, v.Value, v.ValueType, v.Label, marshalConstraints(v.Constraints), v.UpdatedAt.Format(time.RFC3339Nano), v.UpdatedBy, v.TurnNumber)
	return err
}

// DeleteRow removes a single state_current row. Nothing in the engine calls
// it: the log records no deletions, so rollback replay never removes rows
// one at a time.
func (s *Store) DeleteRow(ctx context.Context, chatName, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM state_current WHERE chat_name = ? AND key = ?`, chatName, key)
	return err
}
