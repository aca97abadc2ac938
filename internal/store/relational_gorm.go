package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"strategykit/pkg/conn"
)

var (
	_ RelationalBackend = (*GormBackend)(nil)
	_ RelationalTx      = (*gormTx)(nil)
)

// GormBackend is a RelationalBackend over a gorm connection pool.
type GormBackend struct {
	gormConn
	client *conn.Client
}

// NewGormBackend wraps an open relational client.
func NewGormBackend(client *conn.Client) *GormBackend {
	return &GormBackend{
		gormConn: gormConn{db: client.DB()},
		client:   client,
	}
}

// NewGormBackendFromDB wraps an existing gorm handle. Close is a no-op for
// the caller-owned pool.
func NewGormBackendFromDB(db *gorm.DB) *GormBackend {
	return &GormBackend{gormConn: gormConn{db: db}}
}

func (b *GormBackend) Begin(ctx context.Context) (RelationalTx, error) {
	tx := b.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, classify(tx.Error)
	}
	return &gormTx{gormConn: gormConn{db: tx}}, nil
}

func (b *GormBackend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return classify(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (b *GormBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

type gormTx struct {
	gormConn
}

func (t *gormTx) Commit() error {
	return classify(t.db.Commit().Error)
}

func (t *gormTx) Rollback() error {
	return classify(t.db.Rollback().Error)
}

type gormConn struct {
	db *gorm.DB
}

func (c gormConn) Find(ctx context.Context, table string, conds []Condition, q Query) ([]Record, error) {
	tx := c.where(c.db.WithContext(ctx).Table(table), conds)
	for _, order := range q.Orders {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: order.Field}, Desc: order.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	return toRecords(rows), nil
}

func (c gormConn) Create(ctx context.Context, table string, records []Record, batchSize int) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, len(records))
	for i, record := range records {
		rows[i] = map[string]any(record)
	}

	tx := c.db.WithContext(ctx).Table(table)
	var res *gorm.DB
	if len(rows) == 1 {
		res = tx.Create(rows[0])
	} else {
		res = tx.CreateInBatches(rows, batchSize)
	}
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

func (c gormConn) Update(ctx context.Context, table string, values Record, conds []Condition) (int64, error) {
	tx := c.db.WithContext(ctx).Table(table)
	if len(conds) == 0 {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := c.where(tx, conds).Updates(map[string]any(values))
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

func (c gormConn) Delete(ctx context.Context, table string, conds []Condition) (int64, error) {
	tx := c.db.WithContext(ctx).Table(table)
	if len(conds) == 0 {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := c.where(tx, conds).Delete(map[string]any{})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

func (c gormConn) Query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	var rows []map[string]any
	if err := c.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, classify(err)
	}
	return toRecords(rows), nil
}

func (c gormConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	res := c.db.WithContext(ctx).Exec(sql, args...)
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

func (gormConn) where(tx *gorm.DB, conds []Condition) *gorm.DB {
	if len(conds) == 0 {
		return tx
	}

	exprs := make([]clause.Expression, 0, len(conds))
	for _, cond := range conds {
		column := clause.Column{Name: cond.Field}
		switch cond.Op {
		case OpNe:
			exprs = append(exprs, clause.Neq{Column: column, Value: cond.Value})
		case OpGt:
			exprs = append(exprs, clause.Gt{Column: column, Value: cond.Value})
		case OpGte:
			exprs = append(exprs, clause.Gte{Column: column, Value: cond.Value})
		case OpLt:
			exprs = append(exprs, clause.Lt{Column: column, Value: cond.Value})
		case OpLte:
			exprs = append(exprs, clause.Lte{Column: column, Value: cond.Value})
		case OpIn:
			exprs = append(exprs, clause.IN{Column: column, Values: cond.Value.([]any)})
		default:
			exprs = append(exprs, clause.Eq{Column: column, Value: cond.Value})
		}
	}
	return tx.Clauses(clause.Where{Exprs: exprs})
}

func toRecords(rows []map[string]any) []Record {
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record(row)
	}
	return records
}
