package store

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	xerrors "strategykit/internal/errors"
	"strategykit/pkg/exception"
)

// Record is one row or one structured queue entry, keyed by field name.
type Record map[string]any

// Fields returns the field names of r in sorted order.
func (r Record) Fields() []string {
	return slices.Sorted(maps.Keys(r))
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// split separates r into the values of keys and the remaining fields.
func (r Record) split(keys []string) (Filter, Record, error) {
	where := make(Filter, len(keys))
	for _, key := range keys {
		value, ok := r[key]
		if !ok {
			return nil, nil, xerrors.Mark(fmt.Errorf("%w: %s", exception.ErrMissingKeyField, key), exception.ErrQueryExecution)
		}
		where[key] = value
	}

	rest := make(Record, len(r))
	for field, value := range r {
		if _, isKey := where[field]; !isKey {
			rest[field] = value
		}
	}
	return where, rest, nil
}

// Op is a comparison operator usable in a Filter.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpIn  Op = "in"
)

func (op Op) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	default:
		return false
	}
}

// Cmp is a typed comparison filter value, equivalent to map[string]any{op: value}.
type Cmp struct {
	Op    Op
	Value any
}

// Filter selects rows. Each value is a literal (equality), a one-entry
// map[string]any{op: value}, a Cmp, or a []any (membership). Entries are ANDed.
type Filter map[string]any

// Condition is one compiled filter entry.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Conditions compiles f into conditions ordered by field name.
func (f Filter) Conditions() ([]Condition, error) {
	conds := make([]Condition, 0, len(f))
	for _, field := range slices.Sorted(maps.Keys(f)) {
		if strings.TrimSpace(field) == "" {
			return nil, invalidFilter("empty field name")
		}

		cond := Condition{Field: field, Op: OpEq, Value: f[field]}
		switch v := f[field].(type) {
		case Cmp:
			cond.Op, cond.Value = v.Op, v.Value
		case map[string]any:
			if len(v) != 1 {
				return nil, invalidFilter(fmt.Sprintf("field %s: operator map needs exactly one entry, got %d", field, len(v)))
			}
			for op, value := range v {
				cond.Op, cond.Value = Op(op), value
			}
		case []any:
			cond.Op, cond.Value = OpIn, v
		}

		if !cond.Op.valid() {
			return nil, invalidFilter(fmt.Sprintf("field %s: unknown operator %q", field, cond.Op))
		}
		if cond.Op == OpIn {
			if _, ok := cond.Value.([]any); !ok {
				return nil, invalidFilter(fmt.Sprintf("field %s: %q needs a []any value", field, cond.Op))
			}
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func invalidFilter(msg string) error {
	return xerrors.Mark(fmt.Errorf("%w: %s", exception.ErrInvalidFilter, msg), exception.ErrQueryExecution)
}

// Policy selects how a mutating call treats query execution failures.
type Policy int

const (
	// Propagate returns the failure to the caller.
	Propagate Policy = iota
	// HandleLocally reports the failure and returns a sentinel instead.
	HandleLocally
)

func (p Policy) String() string {
	switch p {
	case Propagate:
		return "propagate"
	case HandleLocally:
		return "handle_locally"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Order sorts by one column.
type Order struct {
	Field string
	Desc  bool
}

// Query carries the optional parts of a select.
type Query struct {
	Orders []Order
	Limit  int
	Offset int
}

// SelectOption configures a select.
type SelectOption func(*Query)

// OrderBy sorts by the given fields; a leading "-" sorts descending.
func OrderBy(fields ...string) SelectOption {
	return func(q *Query) {
		for _, field := range fields {
			if name, desc := strings.CutPrefix(field, "-"); desc {
				q.Orders = append(q.Orders, Order{Field: name, Desc: true})
			} else {
				q.Orders = append(q.Orders, Order{Field: field})
			}
		}
	}
}

// Limit caps the number of returned rows. Zero means no limit.
func Limit(n int) SelectOption {
	return func(q *Query) { q.Limit = n }
}

// Offset skips the first n rows.
func Offset(n int) SelectOption {
	return func(q *Query) { q.Offset = n }
}

func buildQuery(opts []SelectOption) Query {
	var q Query
	for _, opt := range opts {
		if opt != nil {
			opt(&q)
		}
	}
	return q
}
