// Package pgstore 基于 PostgreSQL（pgx v5）的检查点存储。
//
// 每个 thread id 一行，检查点序列化后写入 JSONB 列，写入使用 upsert 在事务内完成。
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/internal"
)

const defaultTableName = "flowgraph_checkpoints"

// DB 存储用到的 pgx 方法，*pgxpool.Pool 与 *pgx.Conn 都满足
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store PostgreSQL 检查点存储
type Store struct {
	db         DB
	tableName  string
	serializer compose.Serializer
	locks      *internal.KeyedMutex
}

var _ compose.CheckPointStore = (*Store)(nil)

// Option 存储选项
type Option func(*Store)

// WithTableName 设置表名，默认 "flowgraph_checkpoints"。
// 表名会拼接进 SQL，因此经 pgx.Identifier 转义。
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = pgx.Identifier{name}.Sanitize()
	}
}

// WithSerializer 设置序列化器，序列化结果必须是合法 JSON
func WithSerializer(ser compose.Serializer) Option {
	return func(s *Store) {
		s.serializer = ser
	}
}

// New 创建 PostgreSQL 存储，建表请调用 EnsureSchema
func New(db DB, opts ...Option) *Store {
	s := &Store{
		db:         db,
		tableName:  defaultTableName,
		serializer: compose.DefaultSerializer,
		locks:      internal.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema 创建检查点表（已存在时跳过）
func (s *Store) EnsureSchema(ctx context.Context) error {
	table := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		thread_id  TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		status     TEXT NOT NULL,
		step       INTEGER NOT NULL DEFAULT 0,
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.tableName)
	if _, err := s.db.Exec(ctx, table); err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (status)`,
		pgx.Identifier{unquote(s.tableName) + "_status_idx"}.Sanitize(), s.tableName)
	if _, err := s.db.Exec(ctx, index); err != nil {
		return fmt.Errorf("pgstore: create index: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, threadID string, cp *compose.Checkpoint) error {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := s.serializer.Marshal(cp)
	if err != nil {
		return fmt.Errorf("pgstore: marshal checkpoint: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`INSERT INTO %s (thread_id, run_id, status, step, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			step = EXCLUDED.step,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`, s.tableName)
	if _, err := tx.Exec(ctx, query, threadID, cp.RunID, string(cp.Status), cp.Step, data); err != nil {
		return fmt.Errorf("pgstore: upsert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (*compose.Checkpoint, bool, error) {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	query := fmt.Sprintf(`SELECT data FROM %s WHERE thread_id = $1`, s.tableName)
	var data []byte
	if err := s.db.QueryRow(ctx, query, threadID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgstore: load: %w", err)
	}

	cp := &compose.Checkpoint{}
	if err := s.serializer.Unmarshal(data, cp); err != nil {
		return nil, false, fmt.Errorf("pgstore: unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, s.tableName)
	if _, err := s.db.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("pgstore: delete: %w", err)
	}
	return nil
}

func unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}
