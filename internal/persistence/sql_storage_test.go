package persistence

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretgov/pkg/secret"
)

func TestParseDialect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"postgres", DialectPostgres, false},
		{"PostgreSQL", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"mariadb", DialectMySQL, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &SQLStorage{dialect: DialectPostgres}
	assert.Equal(t, "VALUES ($1, $2, $3)", pg.rebind("VALUES (?, ?, ?)"))

	my := &SQLStorage{dialect: DialectMySQL}
	assert.Equal(t, "VALUES (?, ?, ?)", my.rebind("VALUES (?, ?, ?)"))
}

func TestSQLStorage_Save(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	snap := sampleSnapshot()
	r := snap.Secrets[0]
	e := snap.AccessLogs[0]

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM secretgov_secrets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO secretgov_secrets .* VALUES \(\$1, \$2`).
		WithArgs(r.Name, r.ValueHash, sqlmock.AnyArg(), sqlmock.AnyArg(), 0,
			"PRODUCTION", "HIGH", "payments", "", 30, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM secretgov_access_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO secretgov_access_log").
		WithArgs(e.ID, 0, sqlmock.AnyArg(), "PROD_API_KEY", "svc1", "CREATE", "10.0.0.1", true, "", `{"classification":"HIGH"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM secretgov_meta").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO secretgov_meta \(id, seq, saved_at\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs(1, snap.Seq, snap.SavedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	s := NewSQLStorage(db, DialectPostgres)
	require.NoError(t, s.Save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_SaveRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM secretgov_secrets").WillReturnError(fmt.Errorf("connection lost"))
	mock.ExpectRollback()

	s := NewSQLStorage(db, DialectMySQL)
	err = s.Save(context.Background(), sampleSnapshot())
	assert.ErrorContains(t, err, "failed to clear secrets")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_Load(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	want := sampleSnapshot()
	r := want.Secrets[0]
	e := want.AccessLogs[0]

	mock.ExpectQuery("SELECT name, value_hash").WillReturnRows(
		sqlmock.NewRows([]string{"name", "value_hash", "created_at", "last_rotated", "rotations_count",
			"environment", "classification", "owner", "purpose", "rotation_frequency_days", "is_active"}).
			AddRow(r.Name, r.ValueHash, r.CreatedAt, r.LastRotated, 2, "PRODUCTION", "HIGH", "payments", nil, 30, true))
	mock.ExpectQuery("SELECT id, ts").WillReturnRows(
		sqlmock.NewRows([]string{"id", "ts", "secret_name", "actor", "action", "source_ip", "success", "reason", "metadata"}).
			AddRow(e.ID, e.Timestamp, e.SecretName, e.Actor, "CREATE", e.SourceIP, true, nil, `{"classification":"HIGH"}`))
	mock.ExpectQuery("SELECT seq FROM secretgov_meta").WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(want.Seq))

	s := NewSQLStorage(db, DialectPostgres)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Secrets, 1)
	assert.Equal(t, 2, got.Secrets[0].RotationsCount)
	assert.Equal(t, secret.ClassificationHigh, got.Secrets[0].Classification)
	assert.Equal(t, secret.EnvironmentProduction, got.Secrets[0].Environment)
	assert.Empty(t, got.Secrets[0].Purpose)
	require.Len(t, got.AccessLogs, 1)
	assert.Equal(t, secret.ActionCreate, got.AccessLogs[0].Action)
	assert.Equal(t, "HIGH", got.AccessLogs[0].Metadata["classification"])
	assert.Equal(t, want.Seq, got.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_LoadWithoutSequenceRow(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	r := sampleSnapshot().Secrets[0]
	mock.ExpectQuery("SELECT name, value_hash").WillReturnRows(
		sqlmock.NewRows([]string{"name", "value_hash", "created_at", "last_rotated", "rotations_count",
			"environment", "classification", "owner", "purpose", "rotation_frequency_days", "is_active"}).
			AddRow(r.Name, r.ValueHash, r.CreatedAt, r.LastRotated, 0, "PRODUCTION", "HIGH", nil, nil, 30, true))
	mock.ExpectQuery("SELECT id, ts").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT seq FROM secretgov_meta").WillReturnRows(sqlmock.NewRows([]string{"seq"}))

	got, err := NewSQLStorage(db, DialectMySQL).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.Seq)
	assert.Len(t, got.Secrets, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorage_LoadSequenceFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT name, value_hash").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectQuery("SELECT id, ts").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT seq FROM secretgov_meta").WillReturnError(fmt.Errorf("relation does not exist"))

	_, err = NewSQLStorage(db, DialectPostgres).Load(context.Background())
	assert.ErrorContains(t, err, "failed to read snapshot sequence")
}

func TestSQLStorage_LoadEmpty(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT name, value_hash").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectQuery("SELECT id, ts").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT seq FROM secretgov_meta").WillReturnRows(sqlmock.NewRows([]string{"seq"}))

	got, err := NewSQLStorage(db, DialectPostgres).Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLStorage_EnsureSchema(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS secretgov_secrets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS secretgov_access_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS secretgov_meta").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewSQLStorage(db, DialectMySQL).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
