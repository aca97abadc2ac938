package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategykit/pkg/conn"
	"strategykit/pkg/exception"
)

const peopleSchema = `CREATE TABLE people (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	height INTEGER,
	weight INTEGER
)`

type reportLog struct {
	mu   sync.Mutex
	tags []string
	errs []error
}

func (r *reportLog) Report(tag string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	r.errs = append(r.errs, err)
}

func (r *reportLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tags)
}

func newPeopleStore(t *testing.T) (*RelationalStore, *reportLog) {
	t.Helper()

	client, err := conn.FromURL("sqlite://:memory:")
	require.NoError(t, err)

	reports := &reportLog{}
	s := NewRelational(NewGormBackend(client), reports)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Exec(t.Context(), peopleSchema, Propagate)
	require.NoError(t, err)
	return s, reports
}

func TestRelationalInsertAndSelect(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	ok, err := s.Insert(ctx, "people", Record{"name": "ann", "height": 170, "weight": 60}, Propagate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Insert(ctx, "people", Record{"name": "bob", "height": 180, "weight": 80}, Propagate)
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := s.Select(ctx, "people", nil, OrderBy("id"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ann", rows[0]["name"])
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "bob", rows[1]["name"])

	rows, err = s.Select(ctx, "people", Filter{"height": Cmp{Op: OpGt, Value: 175}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])

	rows, err = s.Select(ctx, "people", Filter{"name": []any{"ann", "bob"}}, OrderBy("-id"), Limit(1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])

	rows, err = s.Select(ctx, "people", Filter{"name": "nobody"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRelationalFindOne(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	_, found, err := s.FindOne(ctx, "people", Filter{"name": "ann"})
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Insert(ctx, "people", Record{"name": "ann", "height": 170}, Propagate)
	require.NoError(t, err)

	row, found, err := s.FindOne(ctx, "people", Filter{"name": "ann"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(170), row["height"])
	assert.Nil(t, row["weight"])
}

func TestRelationalInsertIfAbsent(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	record := Record{"name": "ann", "height": 170}
	ok, err := s.InsertIfAbsent(ctx, "people", record, []string{"name"}, Propagate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertIfAbsent(ctx, "people", record, []string{"name"}, Propagate)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := s.Select(ctx, "people", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRelationalUpsertIsIdempotent(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	record := Record{"name": "ann", "height": 170, "weight": 60}
	for range 3 {
		ok, err := s.Upsert(ctx, "people", record, []string{"name"}, Propagate)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	rows, err := s.Select(ctx, "people", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	ok, err := s.Upsert(ctx, "people", Record{"name": "ann", "weight": 62}, []string{"name"}, Propagate)
	require.NoError(t, err)
	assert.True(t, ok)

	row, found, err := s.FindOne(ctx, "people", Filter{"name": "ann"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(62), row["weight"])
	assert.Equal(t, int64(170), row["height"])
}

func TestRelationalUpdate(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	_, err := s.Insert(ctx, "people", Record{"name": "ann", "height": 170}, Propagate)
	require.NoError(t, err)

	ok, err := s.Update(ctx, "people", Record{"name": "ann", "height": 171}, []string{"name"}, Propagate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Update(ctx, "people", Record{"name": "bob", "height": 171}, []string{"name"}, Propagate)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Update(ctx, "people", Record{"name": "ann"}, []string{"name"}, Propagate)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Update(ctx, "people", Record{"height": 1}, []string{"name"}, Propagate)
	require.ErrorIs(t, err, exception.ErrMissingKeyField)
	assert.ErrorIs(t, err, exception.ErrQueryExecution)
}

func TestRelationalDeleteCounts(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	for _, name := range []string{"ann", "bob", "cat"} {
		_, err := s.Insert(ctx, "people", Record{"name": name, "height": 170}, Propagate)
		require.NoError(t, err)
	}

	n, err := s.Delete(ctx, "people", Filter{"name": "ann"}, Propagate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, "people", Filter{"name": "ann"}, Propagate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Delete(ctx, "people", nil, Propagate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRelationalNilFilterMatchesNull(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	_, err := s.Insert(ctx, "people", Record{"name": "ann", "height": 170}, Propagate)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "people", Record{"name": "bob"}, Propagate)
	require.NoError(t, err)

	rows, err := s.Select(ctx, "people", Filter{"height": nil})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])

	rows, err = s.Select(ctx, "people", Filter{"height": Cmp{Op: OpNe, Value: nil}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ann", rows[0]["name"])
}

func TestRelationalInsertMany(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	records := []Record{
		{"name": "ann", "height": "170", "weight": 60.0},
		{"name": "bob", "height": "180", "weight": 80.0},
	}
	types := map[string]ColumnType{"height": TypeInteger, "weight": TypeBigInt}

	ok, err := s.InsertMany(ctx, "people", records, types, Propagate)
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := s.Select(ctx, "people", nil, OrderBy("id"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(180), rows[1]["height"])
	assert.Equal(t, "170", records[0]["height"], "caller records must not be modified")
}

func TestRelationalInsertManyIsAllOrNothing(t *testing.T) {
	ctx := t.Context()
	s, reports := newPeopleStore(t)

	records := []Record{
		{"name": "ann", "height": 170},
		{"name": nil, "height": 180},
	}
	ok, err := s.InsertMany(ctx, "people", records, nil, HandleLocally)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, reports.count())

	rows, err := s.Select(ctx, "people", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRelationalInsertManyCoerceFailure(t *testing.T) {
	s, _ := newPeopleStore(t)

	_, err := s.InsertMany(t.Context(), "people", []Record{{"name": "ann", "height": "tall"}}, map[string]ColumnType{"height": TypeInteger}, HandleLocally)
	require.ErrorIs(t, err, exception.ErrSerialization)
}

func TestRelationalMissingTable(t *testing.T) {
	ctx := t.Context()
	s, reports := newPeopleStore(t)

	ok, err := s.Insert(ctx, "missing", Record{"name": "ann"}, HandleLocally)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Equal(t, 1, reports.count())
	assert.Equal(t, ErrorTag, reports.tags[0])
	assert.ErrorIs(t, reports.errs[0], exception.ErrQueryExecution)
	assert.Contains(t, reports.errs[0].Error(), "[db_error] insert missing")

	_, err = s.Insert(ctx, "missing", Record{"name": "ann"}, Propagate)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrQueryExecution)
	assert.Equal(t, 1, reports.count())
}

func TestRelationalEmptyTableName(t *testing.T) {
	s, _ := newPeopleStore(t)

	_, err := s.Select(t.Context(), " ", nil)
	require.ErrorIs(t, err, exception.ErrEmptyTable)
}

func TestRelationalInvalidFilter(t *testing.T) {
	s, _ := newPeopleStore(t)

	_, err := s.Select(t.Context(), "people", Filter{"height": map[string]any{"~": 1}})
	require.ErrorIs(t, err, exception.ErrInvalidFilter)
}

func TestRelationalQuery(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	_, err := s.Insert(ctx, "people", Record{"name": "ann", "height": 170}, Propagate)
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT name, height FROM people WHERE height > ?", Propagate, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ann", rows[0]["name"])

	rows, err = s.Query(ctx, "SELECT * FROM missing", HandleLocally)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestRelationalBeginRejectsSecond(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	require.NoError(t, s.Begin(ctx))
	assert.True(t, s.InTransaction())
	require.ErrorIs(t, s.Begin(ctx), exception.ErrTransactionActive)
	require.NoError(t, s.Rollback())
	assert.False(t, s.InTransaction())

	require.ErrorIs(t, s.Commit(), exception.ErrNoTransaction)
	require.ErrorIs(t, s.Rollback(), exception.ErrNoTransaction)
}

func TestRelationalManualTransaction(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	require.NoError(t, s.Begin(ctx))
	_, err := s.Insert(ctx, "people", Record{"name": "ann"}, Propagate)
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	rows, err := s.Select(ctx, "people", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, s.Begin(ctx))
	_, err = s.Upsert(ctx, "people", Record{"name": "bob", "height": 1}, []string{"name"}, Propagate)
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	rows, err = s.Select(ctx, "people", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRelationalTransaction(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	err := s.Transaction(ctx, func(ctx context.Context) error {
		_, err := s.Insert(ctx, "people", Record{"name": "ann"}, Propagate)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.Insert(ctx, "people", Record{"name": "bob"}, Propagate); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, s.InTransaction())

	assert.Panics(t, func() {
		_ = s.Transaction(ctx, func(ctx context.Context) error {
			_, _ = s.Insert(ctx, "people", Record{"name": "cat"}, Propagate)
			panic("boom")
		})
	})
	assert.False(t, s.InTransaction())

	rows, err := s.Select(ctx, "people", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ann", rows[0]["name"])
}

func TestRelationalConnectionErrorPropagates(t *testing.T) {
	reports := &reportLog{}
	s := NewRelational(brokenBackend{}, reports)

	ok, err := s.Insert(t.Context(), "people", Record{"name": "ann"}, HandleLocally)
	require.ErrorIs(t, err, exception.ErrConnection)
	assert.False(t, ok)
	assert.Zero(t, reports.count())

	_, err = s.Delete(t.Context(), "people", nil, HandleLocally)
	require.ErrorIs(t, err, exception.ErrConnection)
	assert.Zero(t, reports.count())
}

func TestRelationalCanceledContextPropagates(t *testing.T) {
	s, reports := newPeopleStore(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := s.Insert(ctx, "people", Record{"name": "ann"}, HandleLocally)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, reports.count())
}

func TestRelationalDecimalColumn(t *testing.T) {
	ctx := t.Context()
	s, _ := newPeopleStore(t)

	_, err := s.Exec(ctx, "CREATE TABLE prices (symbol TEXT PRIMARY KEY, price TEXT)", Propagate)
	require.NoError(t, err)

	ok, err := s.InsertMany(ctx, "prices", []Record{{"symbol": "BTC", "price": decimal.RequireFromString("55.50")}}, map[string]ColumnType{"price": TypeString}, Propagate)
	require.NoError(t, err)
	require.True(t, ok)

	row, found, err := s.FindOne(ctx, "prices", Filter{"symbol": "BTC"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "55.5", row["price"])
}

var errRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

type brokenBackend struct{}

func (brokenBackend) fail() error { return classify(&netOpError{}) }

func (b brokenBackend) Find(context.Context, string, []Condition, Query) ([]Record, error) {
	return nil, b.fail()
}

func (b brokenBackend) Create(context.Context, string, []Record, int) (int64, error) {
	return 0, b.fail()
}

func (b brokenBackend) Update(context.Context, string, Record, []Condition) (int64, error) {
	return 0, b.fail()
}

func (b brokenBackend) Delete(context.Context, string, []Condition) (int64, error) {
	return 0, b.fail()
}

func (b brokenBackend) Query(context.Context, string, ...any) ([]Record, error) {
	return nil, b.fail()
}

func (b brokenBackend) Exec(context.Context, string, ...any) (int64, error) {
	return 0, b.fail()
}

func (b brokenBackend) Begin(context.Context) (RelationalTx, error) { return nil, b.fail() }
func (b brokenBackend) Ping(context.Context) error                 { return b.fail() }
func (brokenBackend) Close() error                                 { return nil }

// netOpError satisfies net.Error.
type netOpError struct{}

func (netOpError) Error() string   { return errRefused.Error() }
func (netOpError) Timeout() bool   { return false }
func (netOpError) Temporary() bool { return false }
