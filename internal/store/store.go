// Package store wraps the relational store behind an explicit unit of work.
//
// Every write in a business operation goes through the UnitOfWork handed to
// the callback of Store.Transaction. UnitOfWork has no exported fields, so it
// cannot be built anywhere else: a function that takes one is guaranteed to
// write inside the caller's transaction.
package store

import (
	"context" // Request scoped cancellation

	"github.com/sirupsen/logrus" // Logging for after-commit hook panics
	"gorm.io/gorm"               // GORM ORM library
	"gorm.io/gorm/clause"        // Row locking clauses
)

// Store is the single relational source of truth
type Store struct {
	db *gorm.DB // Root connection pool
}

// New wraps an open GORM connection
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UnitOfWork is a transaction handle passed by value to every write
type UnitOfWork struct {
	tx    *gorm.DB  // Open transaction
	hooks *[]func() // Shared with copies, run after commit
}

// Read returns a non-transactional handle for read-only projections
func (s *Store) Read(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Transaction runs fn in one atomic unit. Any error returned by fn rolls
// everything back and discards after-commit hooks.
func (s *Store) Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	hooks := make([]func(), 0) // Hooks registered during fn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(UnitOfWork{tx: tx, hooks: &hooks})
	})
	if err != nil {
		return err // Rolled back, hooks dropped
	}
	for _, h := range hooks {
		runHook(h)
	}
	return nil
}

// runHook isolates after-commit side effects from the committed result
func runHook(h func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("after-commit hook panicked")
		}
	}()
	h()
}

// DB returns the transaction for plain reads and writes
func (u UnitOfWork) DB() *gorm.DB {
	return u.tx
}

// ForUpdate returns a query builder holding an exclusive lock on selected rows
func (u UnitOfWork) ForUpdate() *gorm.DB {
	return u.tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// AfterCommit registers a side effect that must only happen once the unit commits
func (u UnitOfWork) AfterCommit(fn func()) {
	*u.hooks = append(*u.hooks, fn)
}

// Context returns the context the unit was opened with
func (u UnitOfWork) Context() context.Context {
	return u.tx.Statement.Context
}
