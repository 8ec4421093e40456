// Package sqlstore 基于 database/sql + sqlx 的检查点存储。
//
// 占位符经 sqlx.Rebind 按驱动改写，upsert 使用 ON CONFLICT 语法，
// 适用于 PostgreSQL（lib/pq，驱动名 "postgres"）与 SQLite 3.24+。
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/internal"
)

const defaultTableName = "flowgraph_checkpoints"

// Store SQL 检查点存储
type Store struct {
	db         *sqlx.DB
	tableName  string
	serializer compose.Serializer
	locks      *internal.KeyedMutex
}

var _ compose.CheckPointStore = (*Store)(nil)

// Option 存储选项
type Option func(*Store)

// WithTableName 设置表名，调用方需保证表名可信
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = name
	}
}

// WithSerializer 设置序列化器
func WithSerializer(ser compose.Serializer) Option {
	return func(s *Store) {
		s.serializer = ser
	}
}

// New 基于已有连接创建存储
func New(db *sqlx.DB, opts ...Option) *Store {
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

// Open 打开数据库连接并创建存储，driverName 如 "postgres"
func Open(driverName, dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	return New(db, opts...), nil
}

// DB 返回底层连接
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close 关闭底层连接
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema 创建检查点表（已存在时跳过）
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		thread_id  VARCHAR(255) PRIMARY KEY,
		run_id     VARCHAR(64) NOT NULL,
		status     VARCHAR(16) NOT NULL,
		step       INTEGER NOT NULL DEFAULT 0,
		data       TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlstore: create table: %w", err)
	}
	return nil
}

// checkpointRow 表中的一行
type checkpointRow struct {
	ThreadID string `db:"thread_id"`
	RunID    string `db:"run_id"`
	Status   string `db:"status"`
	Step     int    `db:"step"`
	Data     string `db:"data"`
}

func (s *Store) Save(ctx context.Context, threadID string, cp *compose.Checkpoint) error {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := s.serializer.Marshal(cp)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal checkpoint: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (thread_id, run_id, status, step, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			step = excluded.step,
			data = excluded.data,
			updated_at = excluded.updated_at`, s.tableName))
	if _, err := tx.ExecContext(ctx, query,
		threadID, cp.RunID, string(cp.Status), cp.Step, string(data), cp.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("sqlstore: upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (*compose.Checkpoint, bool, error) {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var row checkpointRow
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT thread_id, run_id, status, step, data FROM %s WHERE thread_id = ?`, s.tableName))
	if err := s.db.GetContext(ctx, &row, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlstore: load: %w", err)
	}

	cp := &compose.Checkpoint{}
	if err := s.serializer.Unmarshal([]byte(row.Data), cp); err != nil {
		return nil, false, fmt.Errorf("sqlstore: unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	query := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE thread_id = ?`, s.tableName))
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("sqlstore: delete: %w", err)
	}
	return nil
}

// Threads 列出指定状态的 thread id，status 为空时列出全部
func (s *Store) Threads(ctx context.Context, status compose.RunStatus) ([]string, error) {
	var ids []string
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &ids,
			fmt.Sprintf(`SELECT thread_id FROM %s ORDER BY thread_id`, s.tableName))
	} else {
		err = s.db.SelectContext(ctx, &ids, s.db.Rebind(fmt.Sprintf(
			`SELECT thread_id FROM %s WHERE status = ? ORDER BY thread_id`, s.tableName)), string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list threads: %w", err)
	}
	return ids, nil
}
