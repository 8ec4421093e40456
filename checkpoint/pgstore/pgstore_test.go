package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/schema"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sampleCheckpoint() *compose.Checkpoint {
	return &compose.Checkpoint{
		ThreadID: "t1",
		RunID:    "r1",
		Status:   compose.StatusSuspended,
		Step:     2,
		State:    map[string]schema.Value{"msg": schema.String("hi")},
		Next:     []string{"review"},
	}
}

func TestEnsureSchema(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS flowgraph_checkpoints").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaTableError(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("permission denied"))

	err := s.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave(t *testing.T) {
	mock := newMock(t)
	s := New(mock)
	cp := sampleCheckpoint()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO flowgraph_checkpoints").
		WithArgs("t1", "r1", "SUSPENDED", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), "t1", cp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnError(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO flowgraph_checkpoints").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Save(context.Background(), "t1", sampleCheckpoint())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pgstore: upsert")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBeginError(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectBegin().WillReturnError(errors.New("begin failed"))

	err := s.Save(context.Background(), "t1", sampleCheckpoint())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	data, err := compose.DefaultSerializer.Marshal(sampleCheckpoint())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data FROM flowgraph_checkpoints").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	cp, ok, err := s.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, compose.StatusSuspended, cp.Status)
	assert.Equal(t, []string{"review"}, cp.Next)
	assert.True(t, cp.State["msg"].Equal(schema.String("hi")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissing(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectQuery("SELECT data FROM flowgraph_checkpoints").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	cp, ok, err := s.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, cp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCorrupt(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectQuery("SELECT data FROM flowgraph_checkpoints").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte("{not json")))

	_, _, err := s.Load(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal checkpoint")
}

func TestDeleteWithCustomTable(t *testing.T) {
	mock := newMock(t)
	s := New(mock, WithTableName("runs"))

	mock.ExpectExec(`DELETE FROM "runs"`).
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Delete(context.Background(), "t1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
