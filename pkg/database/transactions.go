package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
)

func savepointName(level int) string {
	return "trans" + strconv.Itoa(level)
}

// TransactionLevel returns the current nesting depth. 0 means no transaction.
func (c *Connection) TransactionLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactions
}

// BeginTransaction opens a transaction, or a savepoint when one is already
// open. A lost connection at level 0 is rebuilt and BEGIN is retried once.
func (c *Connection) BeginTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.createTransactionLocked(ctx); err != nil {
		return err
	}
	c.transactions++
	c.emitTransaction(ctx, Observer.TransactionBeginning)
	return nil
}

func (c *Connection) createTransactionLocked(ctx context.Context) error {
	if c.transactions > 0 {
		if !c.grammar.SupportsSavepoints() {
			return nil
		}
		return c.execControlLocked(ctx, c.grammar.Savepoint(savepointName(c.transactions+1)))
	}

	if c.write == nil && !c.pretending {
		if err := c.reconnectLocked(ctx); err != nil {
			return err
		}
	}

	err := c.execControlLocked(ctx, c.grammar.BeginTransaction())
	if err == nil || !apperrors.IsLostConnection(err) {
		return err
	}

	c.logger.Warn("Lost connection while beginning transaction, reconnecting")
	if rerr := c.reconnectLocked(ctx); rerr != nil {
		return rerr
	}
	return c.execControlLocked(ctx, c.grammar.BeginTransaction())
}

// Commit commits the outermost transaction, or just lowers the level for a
// nested one. A failed commit still lowers the level, and a lost connection
// drops it to 0.
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transactions == 0 {
		return nil
	}

	if c.transactions == 1 {
		if err := c.execControlLocked(ctx, c.grammar.Commit()); err != nil {
			c.transactions--
			if apperrors.IsLostConnection(err) {
				c.transactions = 0
			}
			return err
		}
	}

	c.transactions--
	c.emitTransaction(ctx, Observer.TransactionCommitted)
	return nil
}

// Rollback undoes the innermost transaction level.
func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackToLocked(ctx, c.transactions-1)
}

// RollbackTo undoes every level above toLevel. Levels outside
// [0, TransactionLevel()) are ignored.
func (c *Connection) RollbackTo(ctx context.Context, toLevel int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackToLocked(ctx, toLevel)
}

func (c *Connection) rollbackToLocked(ctx context.Context, toLevel int) error {
	if toLevel < 0 || toLevel >= c.transactions {
		return nil
	}

	if err := c.performRollbackLocked(ctx, toLevel); err != nil {
		if apperrors.IsLostConnection(err) {
			c.transactions = 0
		}
		return err
	}

	c.transactions = toLevel
	c.emitTransaction(ctx, Observer.TransactionRolledBack)
	return nil
}

func (c *Connection) performRollbackLocked(ctx context.Context, toLevel int) error {
	if toLevel == 0 {
		if c.write == nil && !c.pretending {
			return nil
		}
		return c.execControlLocked(ctx, c.grammar.Rollback())
	}
	if c.grammar.SupportsSavepoints() {
		return c.execControlLocked(ctx, c.grammar.RollbackToSavepoint(savepointName(toLevel+1)))
	}
	return nil
}

// execControlLocked runs a transaction control statement on the write handle.
// In pretend mode it is only recorded.
func (c *Connection) execControlLocked(ctx context.Context, sql string) error {
	if c.pretending {
		c.logQueryLocked(sql, nil, 0)
		return nil
	}
	if c.write == nil {
		return &apperrors.QueryError{Connection: c.name, SQL: sql, Kind: apperrors.QueryKindLostConnection, Err: apperrors.ErrNoHandle}
	}
	if _, err := c.write.Exec(ctx, sql); err != nil {
		return &apperrors.QueryError{
			Connection: c.name,
			SQL:        sql,
			Kind:       classifyError(err, c.classify),
			Err:        err,
		}
	}
	return nil
}

// Transaction runs fn inside a transaction. It commits when fn returns nil
// and rolls back when fn returns an error or panics.
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Connection) error) error {
	return c.TransactionAttempts(ctx, 1, fn)
}

// TransactionAttempts is Transaction with up to attempts tries when the
// outermost transaction fails with a concurrency error. Nested calls never
// retry; the error is left to the outer transaction.
func (c *Connection) TransactionAttempts(ctx context.Context, attempts int, fn func(ctx context.Context, tx *Connection) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.BeginTransaction(ctx); err != nil {
			return err
		}

		if err = c.runTransactionCallback(ctx, fn); err != nil {
			if apperrors.IsConcurrency(err) && c.TransactionLevel() > 1 {
				c.mu.Lock()
				c.transactions--
				c.mu.Unlock()
				return err
			}

			if rbErr := c.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			if apperrors.IsConcurrency(err) && attempt < attempts {
				c.logger.Debug("Retrying transaction after concurrency error")
				continue
			}
			return err
		}

		if err = c.Commit(ctx); err != nil {
			if apperrors.IsConcurrency(err) && attempt < attempts {
				continue
			}
			return err
		}
		return nil
	}
	return err
}

func (c *Connection) runTransactionCallback(ctx context.Context, fn func(ctx context.Context, tx *Connection) error) error {
	defer func() {
		if r := recover(); r != nil {
			_ = c.Rollback(ctx)
			panic(r)
		}
	}()
	return fn(ctx, c)
}
