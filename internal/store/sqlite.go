package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"backcast/internal/config"
)

// Store 封装 SQLite 连接，用于归档回测运行记录。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	dsn := cfg.Path
	if cfg.InMemory {
		// 共享缓存保证同一进程内的多个连接看到同一个内存库。
		dsn = "file::memory:?cache=shared"
	} else {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
		dsn = "file:" + dsn
	}

	sep := "?"
	if cfg.InMemory {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", fmt.Sprintf("%s%s_busy_timeout=5000&_foreign_keys=on", dsn, sep))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.InMemory {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("设置 SQLite WAL 模式失败: %w", err)
		}
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite 同步级别失败: %w", err)
	}

	return &Store{db: conn}, nil
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate 依次执行建表语句。
func (s *Store) Migrate(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: 执行建表语句失败: %w", err)
		}
	}
	return nil
}

// WithTx 在事务中执行 fn，fn 返回错误时回滚。
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: 回滚失败: %v (原始错误: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: 提交事务失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}
