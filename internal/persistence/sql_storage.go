package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL / MariaDB
	_ "github.com/lib/pq"              // PostgreSQL

	"github.com/systmms/secretgov/pkg/secret"
)

// Dialect selects placeholder syntax and DDL for a SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

var driverMap = map[string]Dialect{
	"postgresql": DialectPostgres,
	"postgres":   DialectPostgres,
	"mysql":      DialectMySQL,
	"mariadb":    DialectMySQL,
}

// ParseDialect maps a configured database type to a Dialect.
func ParseDialect(dbType string) (Dialect, error) {
	d, ok := driverMap[strings.ToLower(dbType)]
	if !ok {
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
	return d, nil
}

// SQLStorage implements Storage on PostgreSQL or MySQL. Each Save replaces
// every table inside one transaction.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStorage wraps an open database handle.
func NewSQLStorage(db *sql.DB, dialect Dialect) *SQLStorage {
	return &SQLStorage{db: db, dialect: dialect}
}

// OpenSQLStorage opens a connection for dbType ("postgres", "mysql", ...)
// and ensures the schema exists. MySQL DSNs must set parseTime=true.
func OpenSQLStorage(ctx context.Context, dbType, dsn string) (*SQLStorage, error) {
	dialect, err := ParseDialect(dbType)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := NewSQLStorage(db, dialect)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLStorage) EnsureSchema(ctx context.Context) error {
	text := "TEXT"
	if s.dialect == DialectMySQL {
		// MySQL cannot index unbounded TEXT
		text = "VARCHAR(255)"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS secretgov_secrets (
			name ` + text + ` PRIMARY KEY,
			value_hash VARCHAR(128) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_rotated TIMESTAMP NOT NULL,
			rotations_count INTEGER NOT NULL,
			environment VARCHAR(32) NOT NULL,
			classification VARCHAR(32) NOT NULL,
			owner ` + text + `,
			purpose ` + text + `,
			rotation_frequency_days INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS secretgov_access_log (
			id VARCHAR(64) PRIMARY KEY,
			seq INTEGER NOT NULL,
			ts TIMESTAMP NOT NULL,
			secret_name ` + text + ` NOT NULL,
			actor ` + text + `,
			action VARCHAR(16) NOT NULL,
			source_ip VARCHAR(64),
			success BOOLEAN NOT NULL,
			reason ` + text + `,
			metadata ` + text + `
		)`,
		`CREATE TABLE IF NOT EXISTS secretgov_meta (
			id INTEGER PRIMARY KEY,
			seq BIGINT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Load reads the secrets, the access log and the saved sequence number.
// Empty tables yield a nil snapshot.
func (s *SQLStorage) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value_hash, created_at, last_rotated, rotations_count,
		environment, classification, owner, purpose, rotation_frequency_days, is_active
		FROM secretgov_secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := &Snapshot{Version: SnapshotVersion}
	for rows.Next() {
		var (
			r              secret.Record
			env, class     string
			owner, purpose sql.NullString
		)
		if err := rows.Scan(&r.Name, &r.ValueHash, &r.CreatedAt, &r.LastRotated, &r.RotationsCount,
			&env, &class, &owner, &purpose, &r.RotationFrequencyDays, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan secret row: %w", err)
		}
		if r.Environment, err = secret.ParseEnvironment(env); err != nil {
			return nil, fmt.Errorf("secret %s: %w", r.Name, err)
		}
		if r.Classification, err = secret.ParseClassification(class); err != nil {
			return nil, fmt.Errorf("secret %s: %w", r.Name, err)
		}
		r.Owner, r.Purpose = owner.String, purpose.String
		snap.Secrets = append(snap.Secrets, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	logRows, err := s.db.QueryContext(ctx, `SELECT id, ts, secret_name, actor, action, source_ip, success, reason, metadata
		FROM secretgov_access_log ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query access log: %w", err)
	}
	defer func() { _ = logRows.Close() }()

	for logRows.Next() {
		var (
			e                        secret.AccessLogEntry
			action                   string
			actor, ip, reason, metad sql.NullString
		)
		if err := logRows.Scan(&e.ID, &e.Timestamp, &e.SecretName, &actor, &action, &ip, &e.Success, &reason, &metad); err != nil {
			return nil, fmt.Errorf("failed to scan access log row: %w", err)
		}
		e.Action = secret.Action(action)
		e.Actor, e.SourceIP, e.Reason = actor.String, ip.String, reason.String
		if metad.Valid && metad.String != "" {
			if err := json.Unmarshal([]byte(metad.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("access log %s: invalid metadata: %w", e.ID, err)
			}
		}
		snap.AccessLogs = append(snap.AccessLogs, e)
	}
	if err := logRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read access log: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT seq FROM secretgov_meta WHERE id = 1").Scan(&snap.Seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read snapshot sequence: %w", err)
	}

	if len(snap.Secrets) == 0 && len(snap.AccessLogs) == 0 && snap.Seq == 0 {
		return nil, nil
	}
	return snap, nil
}

// Save replaces the stored state with snap in one transaction.
func (s *SQLStorage) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM secretgov_secrets"); err != nil {
		return fmt.Errorf("failed to clear secrets: %w", err)
	}
	insertSecret := s.rebind(`INSERT INTO secretgov_secrets (name, value_hash, created_at, last_rotated, rotations_count,
		environment, classification, owner, purpose, rotation_frequency_days, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, r := range snap.Secrets {
		if _, err := tx.ExecContext(ctx, insertSecret, r.Name, r.ValueHash, r.CreatedAt, r.LastRotated, r.RotationsCount,
			string(r.Environment), r.Classification.String(), r.Owner, r.Purpose, r.RotationFrequencyDays, r.IsActive); err != nil {
			return fmt.Errorf("failed to insert secret %s: %w", r.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM secretgov_access_log"); err != nil {
		return fmt.Errorf("failed to clear access log: %w", err)
	}
	insertLog := s.rebind(`INSERT INTO secretgov_access_log (id, seq, ts, secret_name, actor, action, source_ip, success, reason, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, e := range snap.AccessLogs {
		var metad string
		if len(e.Metadata) > 0 {
			data, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for %s: %w", e.ID, err)
			}
			metad = string(data)
		}
		if _, err := tx.ExecContext(ctx, insertLog, e.ID, i, e.Timestamp, e.SecretName, e.Actor, string(e.Action),
			e.SourceIP, e.Success, e.Reason, metad); err != nil {
			return fmt.Errorf("failed to insert access log %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM secretgov_meta"); err != nil {
		return fmt.Errorf("failed to clear snapshot sequence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO secretgov_meta (id, seq, saved_at) VALUES (?, ?, ?)"),
		1, snap.Seq, snap.SavedAt); err != nil {
		return fmt.Errorf("failed to store snapshot sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	committed = true
	return nil
}

// Close closes the database handle.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
