// Package database persists the session token in sqlite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "chatclient/pkg/database"
	"chatclient/pkg/interfaces"
)

var (
	ErrClosed       = errors.New("token store is closed")
	ErrWriteTimeout = errors.New("token store write timed out")
)

// Manager implements interfaces.TokenStore over one sqlite slot.
// ARCHITECTURAL DISCOVERY: every write goes through one goroutine so
// concurrent saves and clears never contend for the sqlite write lock.
type Manager struct {
	db           *sql.DB
	slot         string
	writeTimeout time.Duration
	retryDelay   time.Duration
	logger       *slog.Logger

	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.TokenStore = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	m := &Manager{
		db:           db,
		slot:         config.Slot,
		writeTimeout: config.WriteTimeout,
		retryDelay:   time.Second,
		logger:       logger.With(slog.String("component", "token_store")),
		writeChannel: make(chan writeOperation, 16),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop runs every write. A failed write is retried once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("token write failed, retrying", slog.String("error", err.Error()))
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("token write failed after retry", slog.String("error", err.Error()))
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// LoadToken returns the token stored in the slot.
func (m *Manager) LoadToken(ctx context.Context) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	var token string
	err := m.db.QueryRowContext(ctx,
		`SELECT token FROM session_tokens WHERE slot = ?`, m.slot,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", interfaces.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// SaveToken overwrites the slot.
func (m *Manager) SaveToken(ctx context.Context, token string) error {
	if token == "" {
		return m.ClearToken(ctx)
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_tokens (slot, token, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(slot) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at
		`, m.slot, token)
		if err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		return nil
	})
}

// ClearToken empties the slot. Clearing an empty slot succeeds.
func (m *Manager) ClearToken(ctx context.Context) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM session_tokens WHERE slot = ?`, m.slot); err != nil {
			return fmt.Errorf("failed to clear token: %w", err)
		}
		return nil
	})
}

// HealthCheck pings the database and reads the token table.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_tokens`).Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
