// Package example shows how entry points use the stores and the logger. It
// registers "example" as a strategy and a tool, and "queue" as a server.
package example

import (
	"context"
	"errors"
	"fmt"

	"strategykit/internal/runner"
	"strategykit/internal/store"
	"strategykit/pkg/exception"
)

// PeopleTable is expected to exist with columns id (auto increment primary
// key), name, height and weight.
const PeopleTable = "people"

func init() {
	runner.Register(runner.KindStrategy, "example", Strategy)
	runner.Register(runner.KindTools, "example", Tool)
	runner.Register(runner.KindServer, "queue", QueueServer)
}

// Strategy runs the log, key-value and relational walkthroughs.
func Strategy(ctx context.Context, app *runner.App, param string) error {
	app.Log.Infof("example strategy start, param: %s", param)
	UseLog(app)

	kv, err := app.KV(ctx)
	if err != nil {
		return err
	}
	if _, err := UseKeyValue(ctx, kv); err != nil {
		return err
	}

	db, err := app.DB(ctx)
	if err != nil {
		return err
	}
	rows, err := UsePeople(ctx, db, app.Log.ErrorPro)
	if err != nil {
		return err
	}
	app.Log.Infof("people selected: %d", len(rows))
	return nil
}

// Tool prints its parameter.
func Tool(_ context.Context, app *runner.App, param string) error {
	app.Log.Infof("p1=%s type(p1)=%T", param, param)
	return nil
}

// UseLog writes one entry per level, then an error with its stack.
func UseLog(app *runner.App) {
	app.Log.Info("Start")

	app.Log.Warn("Below code has error:")
	err := divide(1, 0)
	app.Log.Error("Division by 0")
	app.Log.Exception(err)
	app.Log.ErrorPro("Division by 0", err)
}

var errDivideByZero = errors.New("division by zero")

func divide(a, b int) error {
	if b == 0 {
		return fmt.Errorf("%d / %d: %w", a, b, errDivideByZero)
	}
	return nil
}

// UseKeyValue stores a string and reads back a missing key with a default.
func UseKeyValue(ctx context.Context, kv *store.KeyValueStore) (string, error) {
	if _, err := kv.SetString(ctx, "1", "str1"); err != nil {
		return "", err
	}
	return kv.GetString(ctx, "2", "null")
}

// UsePeople walks the relational store through every write path and returns
// the people weighing at least 50 and at most 175 tall, newest first.
// Failures of the optional copy statement go to onQueryError.
func UsePeople(ctx context.Context, db *store.RelationalStore, onQueryError func(tag string, err error)) ([]store.Record, error) {
	if _, err := db.Insert(ctx, PeopleTable, store.Record{"name": "Jack", "height": 174, "weight": 55.5}, store.Propagate); err != nil {
		return nil, err
	}

	_, err := db.InsertMany(ctx, PeopleTable, []store.Record{
		{"name": "Bob", "height": 181, "weight": 73.2},
		{"name": "Alice", "height": 163, "weight": 50.1},
	}, map[string]store.ColumnType{
		"name":   store.TypeString,
		"height": store.TypeInteger,
		"weight": store.TypeFloat,
	}, store.Propagate)
	if err != nil {
		return nil, err
	}

	if _, err := db.Delete(ctx, PeopleTable, store.Filter{"name": "Bob"}, store.Propagate); err != nil {
		return nil, err
	}
	if _, err := db.Update(ctx, PeopleTable, store.Record{"id": 4, "height": 164}, []string{"id"}, store.Propagate); err != nil {
		return nil, err
	}
	if _, err := db.Upsert(ctx, PeopleTable, store.Record{"id": 1, "height": 175, "weight": 55.5}, []string{"id"}, store.Propagate); err != nil {
		return nil, err
	}

	rows, err := db.Select(ctx, PeopleTable, store.Filter{
		"weight": map[string]any{">=": 50},
		"height": store.Cmp{Op: store.OpLte, Value: 175},
	}, store.OrderBy("-id"))
	if err != nil {
		return nil, err
	}

	err = db.Transaction(ctx, func(ctx context.Context) error {
		_, err := db.Exec(ctx, "INSERT INTO people_archive SELECT * FROM people", store.Propagate)
		return err
	})
	if err != nil && onQueryError != nil {
		onQueryError("query_error", err)
	}
	return rows, nil
}

// DefaultQueue is drained by the queue server when no -param is given.
const DefaultQueue = "example:queue"

// QueueServer drains the list named by param until ctx is done.
func QueueServer(ctx context.Context, app *runner.App, param string) error {
	key := param
	if key == "" {
		key = DefaultQueue
	}

	kv, err := app.KV(ctx)
	if err != nil {
		return err
	}

	app.Log.Infof("draining %s", key)
	return Drain(ctx, kv, key, func(r store.Record) error {
		app.Log.Infof("%s: %v", key, r)
		return nil
	})
}

// Drain pops entries of key and hands them to handle, one at a time, until
// ctx is done or handle fails. Entries that fail to decode are skipped; the
// store has already reported them.
func Drain(ctx context.Context, kv *store.KeyValueStore, key string, handle func(store.Record) error) error {
	for {
		record, err := kv.PopFrontBlocking(ctx, key, 0)
		switch {
		case err == nil:
			if err := handle(record); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, exception.ErrSerialization):
			continue
		default:
			return err
		}
	}
}
