package exception

import "github.com/yanun0323/errors"

// Store failure kinds. Backend adapters mark every error they return with
// exactly one of these.
var (
	// ErrConnection means the backend is unreachable or refused the
	// credentials. It is never handled locally.
	ErrConnection = errors.New("store: connection error")

	// ErrQueryExecution means the backend rejected the statement.
	ErrQueryExecution = errors.New("store: query execution error")

	// ErrSerialization means a stored value could not be encoded, decoded or
	// converted. It is never handled locally.
	ErrSerialization = errors.New("store: serialization error")
)

// Relational store errors.
var (
	ErrTransactionActive = errors.New("store: transaction already active")
	ErrNoTransaction     = errors.New("store: no active transaction")
	ErrInvalidFilter     = errors.New("store: invalid filter")
	ErrMissingKeyField   = errors.New("store: record misses key field")
	ErrEmptyTable        = errors.New("store: empty table name")
	ErrUnsupportedScheme = errors.New("store: unsupported url scheme")
)

// Key-value store errors.
var (
	ErrPopTimeout   = errors.New("store: blocking pop timed out")
	ErrFieldMissing = errors.New("store: hash field missing")
)
