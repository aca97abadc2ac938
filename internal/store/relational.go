package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xerrors "strategykit/internal/errors"
	"strategykit/pkg/conn"
	"strategykit/pkg/exception"
)

// ErrorTag tags relational failures handled locally.
const ErrorTag = "db_error"

// InsertBatchSize is the number of rows InsertMany sends per statement.
const InsertBatchSize = 1000

// RelationalConn is the statement surface shared by a backend and its
// transactions. Every returned error is marked with one of the store kinds
// in pkg/exception.
type RelationalConn interface {
	Find(ctx context.Context, table string, conds []Condition, q Query) ([]Record, error)
	Create(ctx context.Context, table string, records []Record, batchSize int) (int64, error)
	Update(ctx context.Context, table string, values Record, conds []Condition) (int64, error)
	Delete(ctx context.Context, table string, conds []Condition) (int64, error)
	Query(ctx context.Context, sql string, args ...any) ([]Record, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// RelationalTx is an open backend transaction.
type RelationalTx interface {
	RelationalConn
	Commit() error
	Rollback() error
}

// RelationalBackend is a pooled relational connection.
type RelationalBackend interface {
	RelationalConn
	Begin(ctx context.Context) (RelationalTx, error)
	Ping(ctx context.Context) error
	Close() error
}

// RelationalStore provides table CRUD, raw statements and transaction
// control over a RelationalBackend.
//
// A transaction opened with Begin or Transaction belongs to the store
// instance: while it is open every call on the store runs inside it, so
// callers sharing one store must not interleave work with another caller's
// transaction. A second Begin is rejected with exception.ErrTransactionActive.
type RelationalStore struct {
	backend  RelationalBackend
	reporter ErrorReporter

	mu sync.Mutex
	tx RelationalTx
}

// NewRelational wraps backend. A nil reporter discards reports.
func NewRelational(backend RelationalBackend, reporter ErrorReporter) *RelationalStore {
	return &RelationalStore{
		backend:  backend,
		reporter: reporterOrDiscard(reporter),
	}
}

// OpenRelational connects to the database at url (postgres://, sqlite://
// or file:) and wraps it.
func OpenRelational(ctx context.Context, url string, reporter ErrorReporter) (*RelationalStore, error) {
	client, err := conn.FromURL(url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Mark(err, exception.ErrConnection), "open relational store")
	}
	backend := NewGormBackend(client)
	if err := backend.Ping(ctx); err != nil {
		_ = backend.Close()
		return nil, xerrors.Wrap(err, "ping relational store")
	}
	return NewRelational(backend, reporter), nil
}

// Select returns every row of table matching filter. An empty filter
// returns all rows.
func (s *RelationalStore) Select(ctx context.Context, table string, filter Filter, opts ...SelectOption) ([]Record, error) {
	conds, err := s.prepare(table, filter)
	if err != nil {
		return nil, xerrors.Wrap(err, "select "+table)
	}
	rows, err := s.conn().Find(ctx, table, conds, buildQuery(opts))
	if err != nil {
		return nil, xerrors.Wrap(err, "select "+table)
	}
	return rows, nil
}

// FindOne returns the first row matching filter. found is false when no row
// matches; that is not an error.
func (s *RelationalStore) FindOne(ctx context.Context, table string, filter Filter, opts ...SelectOption) (record Record, found bool, err error) {
	opts = append(opts, Limit(1))
	rows, err := s.Select(ctx, table, filter, opts...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Insert adds one row and reports whether it was created.
func (s *RelationalStore) Insert(ctx context.Context, table string, record Record, policy Policy) (bool, error) {
	op := "insert " + table
	if _, err := s.prepare(table, nil); err != nil {
		return false, s.fail(op, err, policy)
	}
	n, err := s.conn().Create(ctx, table, []Record{record.Clone()}, 1)
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	return n > 0, nil
}

// InsertIfAbsent inserts record unless a row with the same keys exists and
// reports whether it inserted.
func (s *RelationalStore) InsertIfAbsent(ctx context.Context, table string, record Record, keys []string, policy Policy) (bool, error) {
	op := "insert if absent " + table
	var inserted bool
	err := s.atomically(ctx, func(c RelationalConn) error {
		where, _, err := record.split(keys)
		if err != nil {
			return err
		}
		conds, err := s.prepare(table, where)
		if err != nil {
			return err
		}
		rows, err := c.Find(ctx, table, conds, Query{Limit: 1})
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			return nil
		}
		n, err := c.Create(ctx, table, []Record{record.Clone()}, 1)
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	return inserted, nil
}

// InsertMany adds records in one all-or-nothing unit. types, when given,
// pins column types: values of those columns are coerced before insert.
func (s *RelationalStore) InsertMany(ctx context.Context, table string, records []Record, types map[string]ColumnType, policy Policy) (bool, error) {
	op := "insert many " + table
	if len(records) == 0 {
		return true, nil
	}
	if _, err := s.prepare(table, nil); err != nil {
		return false, s.fail(op, err, policy)
	}
	rows, err := coerceRecords(records, types)
	if err != nil {
		return false, xerrors.Wrap(err, op)
	}
	err = s.atomically(ctx, func(c RelationalConn) error {
		_, err := c.Create(ctx, table, rows, InsertBatchSize)
		return err
	})
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	return true, nil
}

// Upsert updates the row matching keys with the other fields of record, or
// inserts record when no row matches.
func (s *RelationalStore) Upsert(ctx context.Context, table string, record Record, keys []string, policy Policy) (bool, error) {
	op := "upsert " + table
	err := s.atomically(ctx, func(c RelationalConn) error {
		where, values, err := record.split(keys)
		if err != nil {
			return err
		}
		conds, err := s.prepare(table, where)
		if err != nil {
			return err
		}
		rows, err := c.Find(ctx, table, conds, Query{Limit: 1})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			_, err = c.Create(ctx, table, []Record{record.Clone()}, 1)
			return err
		}
		if len(values) == 0 {
			return nil
		}
		_, err = c.Update(ctx, table, values, conds)
		return err
	})
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	return true, nil
}

// Update writes the non-key fields of record to the rows matching its key
// fields and reports whether any row was affected.
func (s *RelationalStore) Update(ctx context.Context, table string, record Record, keys []string, policy Policy) (bool, error) {
	op := "update " + table
	where, values, err := record.split(keys)
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	conds, err := s.prepare(table, where)
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	if len(values) == 0 {
		return false, nil
	}
	n, err := s.conn().Update(ctx, table, values, conds)
	if err != nil {
		return false, s.fail(op, err, policy)
	}
	return n > 0, nil
}

// Delete removes the rows matching filter and returns how many were
// removed. An empty filter removes every row.
func (s *RelationalStore) Delete(ctx context.Context, table string, filter Filter, policy Policy) (int64, error) {
	op := "delete " + table
	conds, err := s.prepare(table, filter)
	if err != nil {
		return 0, s.fail(op, err, policy)
	}
	n, err := s.conn().Delete(ctx, table, conds)
	if err != nil {
		return 0, s.fail(op, err, policy)
	}
	return n, nil
}

// Query runs a caller supplied statement and returns its rows.
func (s *RelationalStore) Query(ctx context.Context, sql string, policy Policy, args ...any) ([]Record, error) {
	rows, err := s.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, s.fail("query", err, policy)
	}
	return rows, nil
}

// Exec runs a caller supplied statement and returns the affected row count.
func (s *RelationalStore) Exec(ctx context.Context, sql string, policy Policy, args ...any) (int64, error) {
	n, err := s.conn().Exec(ctx, sql, args...)
	if err != nil {
		return 0, s.fail("exec", err, policy)
	}
	return n, nil
}

// Begin opens the store's transaction.
func (s *RelationalStore) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return exception.ErrTransactionActive
	}
	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return xerrors.Wrap(err, "begin")
	}
	s.tx = tx
	return nil
}

// Commit commits the store's transaction.
func (s *RelationalStore) Commit() error {
	tx, err := s.takeTx()
	if err != nil {
		return err
	}
	return xerrors.Wrap(tx.Commit(), "commit")
}

// Rollback aborts the store's transaction.
func (s *RelationalStore) Rollback() error {
	tx, err := s.takeTx()
	if err != nil {
		return err
	}
	return xerrors.Wrap(tx.Rollback(), "rollback")
}

// InTransaction reports whether the store has an open transaction.
func (s *RelationalStore) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Transaction runs fn inside a new store transaction. It commits when fn
// returns nil and rolls back when fn returns an error or panics; a panic is
// re-raised after the rollback.
func (s *RelationalStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := s.Begin(ctx); err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := s.Rollback(); rbErr != nil && err != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}

	committed = true
	return s.Commit()
}

// Close rolls back an open transaction and closes the backend.
func (s *RelationalStore) Close() error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	if tx != nil {
		_ = tx.Rollback()
	}
	return s.backend.Close()
}

func (s *RelationalStore) conn() RelationalConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.backend
}

func (s *RelationalStore) takeTx() (RelationalTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	if tx == nil {
		return nil, exception.ErrNoTransaction
	}
	s.tx = nil
	return tx, nil
}

// atomically runs fn inside the open store transaction, or inside a
// transaction of its own when none is open.
func (s *RelationalStore) atomically(ctx context.Context, fn func(c RelationalConn) error) (err error) {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx != nil {
		return fn(tx)
	}

	local, err := s.backend.Begin(ctx)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			_ = local.Rollback()
		}
	}()

	if err := fn(local); err != nil {
		return err
	}
	done = true
	return local.Commit()
}

func (s *RelationalStore) prepare(table string, filter Filter) ([]Condition, error) {
	if strings.TrimSpace(table) == "" {
		return nil, xerrors.Mark(exception.ErrEmptyTable, exception.ErrQueryExecution)
	}
	return filter.Conditions()
}

// fail applies policy to err. It returns nil when the failure was reported
// and must be replaced by a sentinel.
func (s *RelationalStore) fail(op string, err error, policy Policy) error {
	err = xerrors.Wrap(classify(err), op)
	if policy != HandleLocally || propagates(err) {
		return err
	}
	s.reporter.Report(ErrorTag, xerrors.Tag(ErrorTag, err))
	return nil
}
