package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/go-sql-driver/mysql"
)

var ErrPoolTimeout = errors.New("timed out waiting for a database connection")

// Pool is the process-wide connection pool. Each unit of work borrows one
// connection through Session.
type Pool struct {
	db          *sql.DB
	waitTimeout time.Duration
}

// Open builds the pool from cfg and verifies the store is reachable.
func Open(ctx context.Context, cfg config.MySQLConfig) (*Pool, error) {
	mysqlCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// RowsAffected must count matched rows so an update that writes identical
	// values still reports the row as found.
	mysqlCfg.ClientFoundRows = true
	mysqlCfg.ParseTime = true

	connector, err := mysql.NewConnector(mysqlCfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns())
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pool := NewPool(db, cfg.PoolTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PoolTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return pool, nil
}

// NewPool wraps an already configured *sql.DB.
func NewPool(db *sql.DB, waitTimeout time.Duration) *Pool {
	return &Pool{db: db, waitTimeout: waitTimeout}
}

// DB exposes the underlying handle for migrations and admin commands.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Session borrows one connection for the duration of fn. Acquisition gives up
// after the pool wait timeout with ErrPoolTimeout.
func (p *Pool) Session(ctx context.Context, fn func(conn *sql.Conn) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	conn, err := p.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrPoolTimeout, p.waitTimeout)
		}
		return err
	}
	defer conn.Close()

	return fn(conn)
}

func (p *Pool) Close() error {
	return p.db.Close()
}
