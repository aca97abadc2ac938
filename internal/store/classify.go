package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	xerrors "strategykit/internal/errors"
	"strategykit/pkg/exception"
)

// postgres SQLSTATE classes that mean the session is unusable.
var connectionSQLStates = map[string]struct{}{
	"08000": {}, "08003": {}, "08006": {}, "08001": {}, "08004": {},
	"28000": {}, "28P01": {}, // invalid authorization
	"57P01": {}, "57P02": {}, "57P03": {}, // admin shutdown, crash, cannot connect now
}

// classify marks err as a connection error or a query execution error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if xerrors.Is(err, exception.ErrConnection) ||
		xerrors.Is(err, exception.ErrQueryExecution) ||
		xerrors.Is(err, exception.ErrSerialization) {
		return err
	}
	// context errors satisfy net.Error and stay unmarked.
	if xerrors.Is(err, context.Canceled) || xerrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isConnectionError(err) {
		return xerrors.Mark(err, exception.ErrConnection)
	}
	return xerrors.Mark(err, exception.ErrQueryExecution)
}

func isConnectionError(err error) bool {
	if xerrors.Is(err, driver.ErrBadConn) ||
		xerrors.Is(err, sql.ErrConnDone) ||
		xerrors.Is(err, redis.ErrClosed) ||
		xerrors.Is(err, io.EOF) ||
		xerrors.Is(err, io.ErrUnexpectedEOF) ||
		xerrors.Is(err, net.ErrClosed) ||
		xerrors.Is(err, syscall.ECONNREFUSED) ||
		xerrors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if xerrors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if xerrors.As(err, &pgErr) {
		_, ok := connectionSQLStates[pgErr.Code]
		return ok
	}

	var netErr net.Error
	if xerrors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return xerrors.As(err, &opErr)
}

// propagates reports whether err must reach the caller regardless of policy.
func propagates(err error) bool {
	return xerrors.Is(err, exception.ErrConnection) ||
		xerrors.Is(err, exception.ErrSerialization) ||
		xerrors.Is(err, context.Canceled) ||
		xerrors.Is(err, context.DeadlineExceeded)
}

func serializationError(err error) error {
	return xerrors.Mark(err, exception.ErrSerialization)
}
