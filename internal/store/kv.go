package store

import (
	"context"
	"fmt"
	"iter"
	"time"

	xerrors "strategykit/internal/errors"
	"strategykit/pkg/conn"
	"strategykit/pkg/exception"
)

// DecodeErrorTag tags queue entries that were popped but could not be decoded.
const DecodeErrorTag = "kv_decode_error"

// pollInterval bounds each blocking pop so ctx cancellation is observed.
const pollInterval = time.Second

// KeyValueBackend is a pooled key-value connection. ok is false when the key
// or field is absent. Every returned error is marked with one of the store
// kinds in pkg/exception.
type KeyValueBackend interface {
	RPush(ctx context.Context, key string, values ...string) error
	LPop(ctx context.Context, key string) (value string, ok bool, err error)
	BLPop(ctx context.Context, key string, timeout time.Duration) (value string, ok bool, err error)

	Set(ctx context.Context, key, value string) (string, error)
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HSet(ctx context.Context, key string, values map[string]string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string, count int64) iter.Seq2[string, error]
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// KeyValueStore provides string, hash and list-queue access over a
// KeyValueBackend. List entries are JSON objects; see EncodeRecord.
type KeyValueStore struct {
	backend  KeyValueBackend
	reporter ErrorReporter
}

// NewKeyValue wraps backend. A nil reporter discards reports.
func NewKeyValue(backend KeyValueBackend, reporter ErrorReporter) *KeyValueStore {
	return &KeyValueStore{
		backend:  backend,
		reporter: reporterOrDiscard(reporter),
	}
}

// OpenKeyValue connects to the server at url (redis:// or rediss://).
func OpenKeyValue(ctx context.Context, url string, reporter ErrorReporter) (*KeyValueStore, error) {
	client, err := conn.RedisFromURL(ctx, url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Mark(err, exception.ErrConnection), "open key-value store")
	}
	return NewKeyValue(NewRedisBackend(client.Client()), reporter), nil
}

// PushAll appends values to the tail of the list at key, in order.
func (s *KeyValueStore) PushAll(ctx context.Context, key string, values []Record) error {
	if len(values) == 0 {
		return nil
	}

	payloads := make([]string, len(values))
	for i, value := range values {
		data, err := EncodeRecord(value)
		if err != nil {
			return xerrors.Wrap(err, "push "+key)
		}
		payloads[i] = string(data)
	}
	return xerrors.Wrap(s.backend.RPush(ctx, key, payloads...), "push "+key)
}

// PopFront removes and returns the head of the list at key. It returns an
// empty Record when the list is absent or empty.
func (s *KeyValueStore) PopFront(ctx context.Context, key string) (Record, error) {
	payload, ok, err := s.backend.LPop(ctx, key)
	if err != nil {
		return nil, xerrors.Wrap(err, "pop "+key)
	}
	if !ok {
		return Record{}, nil
	}
	return s.decodePopped(key, payload)
}

// PopFrontBlocking waits until the list at key has an element, then removes
// and returns it. A zero timeout waits until ctx is done; otherwise
// exception.ErrPopTimeout is returned once timeout elapses.
func (s *KeyValueStore) PopFrontBlocking(ctx context.Context, key string, timeout time.Duration) (Record, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(err, "blocking pop "+key)
		}

		wait := pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, xerrors.Wrap(exception.ErrPopTimeout, "blocking pop "+key)
			}
			wait = min(wait, remaining)
		}

		payload, ok, err := s.backend.BLPop(ctx, key, wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil, xerrors.Wrap(ctx.Err(), "blocking pop "+key)
			}
			return nil, xerrors.Wrap(err, "blocking pop "+key)
		}
		if ok {
			return s.decodePopped(key, payload)
		}
	}
}

// SetString stores the string form of value at key and returns the backend
// status reply.
func (s *KeyValueStore) SetString(ctx context.Context, key string, value any) (string, error) {
	str, err := toString(value)
	if err != nil {
		return "", xerrors.Wrap(serializationError(err), "set "+key)
	}
	status, err := s.backend.Set(ctx, key, str)
	if err != nil {
		return "", xerrors.Wrap(err, "set "+key)
	}
	return status, nil
}

// GetString returns the string at key, or def when key is absent.
func (s *KeyValueStore) GetString(ctx context.Context, key string, def string) (string, error) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return def, xerrors.Wrap(err, "get "+key)
	}
	if !ok {
		return def, nil
	}
	return value, nil
}

// LookupHashField returns the raw value of field in the hash at key.
func (s *KeyValueStore) LookupHashField(ctx context.Context, key, field string) (string, bool, error) {
	value, ok, err := s.backend.HGet(ctx, key, field)
	if err != nil {
		return "", false, xerrors.Wrap(err, "hget "+key)
	}
	return value, ok, nil
}

// GetHashField returns field of the hash at key converted by conv, or def
// when the field is absent. A conversion failure is a serialization error.
func GetHashField[T any](ctx context.Context, s *KeyValueStore, key, field string, conv Converter[T], def T) (T, error) {
	raw, ok, err := s.LookupHashField(ctx, key, field)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	value, err := conv(raw)
	if err != nil {
		return def, xerrors.Wrap(serializationError(err), fmt.Sprintf("convert %s.%s", key, field))
	}
	return value, nil
}

// SetHashField stores the string form of value under field and returns 1
// when the field was created, 0 when it was overwritten.
func (s *KeyValueStore) SetHashField(ctx context.Context, key, field string, value any) (int64, error) {
	return s.SetHashFields(ctx, key, map[string]any{field: value})
}

// GetAllHashFields returns the hash at key. With types nil every field is
// returned as a raw string. Otherwise only the named fields are returned,
// each converted; a named field that is absent is a serialization error.
func (s *KeyValueStore) GetAllHashFields(ctx context.Context, key string, types map[string]AnyConverter) (map[string]any, error) {
	values, err := s.backend.HGetAll(ctx, key)
	if err != nil {
		return nil, xerrors.Wrap(err, "hgetall "+key)
	}

	if types == nil {
		out := make(map[string]any, len(values))
		for field, value := range values {
			out[field] = value
		}
		return out, nil
	}

	out := make(map[string]any, len(types))
	for field, conv := range types {
		raw, ok := values[field]
		if !ok {
			return nil, xerrors.Wrap(serializationError(fmt.Errorf("%w: %s", exception.ErrFieldMissing, field)), "hgetall "+key)
		}
		value, err := conv(raw)
		if err != nil {
			return nil, xerrors.Wrap(serializationError(err), fmt.Sprintf("convert %s.%s", key, field))
		}
		out[field] = value
	}
	return out, nil
}

// SetHashFields stores the string form of every value and returns the
// number of fields created.
func (s *KeyValueStore) SetHashFields(ctx context.Context, key string, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	fields := make(map[string]string, len(values))
	for field, value := range values {
		str, err := toString(value)
		if err != nil {
			return 0, xerrors.Wrap(serializationError(err), "hset "+key)
		}
		fields[field] = str
	}

	n, err := s.backend.HSet(ctx, key, fields)
	if err != nil {
		return 0, xerrors.Wrap(err, "hset "+key)
	}
	return n, nil
}

// DeleteHashFields removes fields from the hash at key and returns how many
// existed.
func (s *KeyValueStore) DeleteHashFields(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.backend.HDel(ctx, key, fields...)
	return n, xerrors.Wrap(err, "hdel "+key)
}

// DeleteKeys removes keys and returns how many existed.
func (s *KeyValueStore) DeleteKeys(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.backend.Del(ctx, keys...)
	return n, xerrors.Wrap(err, "del")
}

// Exists reports whether key is present.
func (s *KeyValueStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.backend.Exists(ctx, key)
	return ok, xerrors.Wrap(err, "exists "+key)
}

// ScanKeys lazily iterates the keys matching pattern. count is a per-round
// hint, 0 leaves it to the backend. Each call starts a new scan.
func (s *KeyValueStore) ScanKeys(ctx context.Context, pattern string, count int64) iter.Seq2[string, error] {
	return s.backend.Scan(ctx, pattern, count)
}

// ListKeys returns every key matching pattern.
func (s *KeyValueStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.backend.Keys(ctx, pattern)
	if err != nil {
		return nil, xerrors.Wrap(err, "keys "+pattern)
	}
	return keys, nil
}

// Close closes the backend.
func (s *KeyValueStore) Close() error {
	return s.backend.Close()
}

func (s *KeyValueStore) decodePopped(key, payload string) (Record, error) {
	record, err := DecodeRecord([]byte(payload))
	if err != nil {
		err = xerrors.Wrap(err, "pop "+key)
		// the entry has left the list; the report is the only copy of it.
		s.reporter.Report(DecodeErrorTag, xerrors.Tag(DecodeErrorTag, fmt.Errorf("%w, payload: %s", err, payload)))
		return nil, err
	}
	return record, nil
}

// IsTimeout reports whether err is a blocking pop timeout.
func IsTimeout(err error) bool {
	return xerrors.Is(err, exception.ErrPopTimeout)
}
