// Package db wraps MySQL access for the perf-api service.
package db

// File: internal/db/db.go
// Purpose: MySQL store construction, schema migration and shared helpers.

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	errwrap "github.com/pkg/errors"

	"perf-api-go/internal/apperr"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a sql.DB and exposes run, detail and recommendation queries.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens a MySQL connection and verifies connectivity.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health performs a ping to validate database connectivity.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("Store.Health", err)
	}
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return storeErr("Store.Migrate", err)
	}
	return nil
}

// withTx runs fn in one transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, funcName string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(funcName, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeErr(funcName, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(funcName, err)
	}
	return nil
}

func storeErr(funcName string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.Error{Kind: apperr.KindStore, Err: errwrap.Wrap(err, funcName)}
}

func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
