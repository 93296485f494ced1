package cache

import (
	"context"
	"log/slog"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// CategoryCacheBackend marks failures of the cache layer: backend
	// unavailable, codec failures, lock contention.
	CategoryCacheBackend goerrors.Category = "external_cache"
	// CategoryStore marks failures of the persistent record store, both
	// read-through loads and mutations.
	CategoryStore goerrors.Category = "external_store"
)

const (
	TextCodeBackendUnavailable = "CACHE_BACKEND_UNAVAILABLE"
	TextCodeCodecFailure       = "CACHE_CODEC_FAILURE"
	TextCodeStoreLoadFailed    = "STORE_LOAD_FAILED"
	TextCodeStoreMutation      = "STORE_MUTATION_FAILED"
	TextCodeLockNotAcquired    = "LOCK_NOT_ACQUIRED"
	TextCodeInvalidConfig      = "INVALID_CONFIG"
)

// newLayerError always builds a fresh *goerrors.Error. goerrors.Wrap would
// clone a wrapped *goerrors.Error and keep its category, which would hide
// the layer that failed.
func newLayerError(err error, category goerrors.Category, textCode, message string) *goerrors.Error {
	e := goerrors.New(message, category).WithTextCode(textCode)
	e.Source = err
	return e
}

// BackendError reports that the cache backend could not serve op.
func BackendError(err error, op string, keys ...string) error {
	if err == nil {
		return nil
	}
	e := newLayerError(err, CategoryCacheBackend, TextCodeBackendUnavailable, "cache backend "+op+" failed")
	if len(keys) > 0 {
		e = e.WithMetadata(map[string]any{"operation": op, "keys": keys})
	}
	return e
}

// CodecError reports a value that could not be encoded or decoded.
func CodecError(err error, key string) error {
	if err == nil {
		return nil
	}
	return newLayerError(err, CategoryCacheBackend, TextCodeCodecFailure, "cache codec failure").
		WithMetadata(map[string]any{"key": key})
}

// StoreError reports a persistent store failure. textCode is one of
// TextCodeStoreLoadFailed or TextCodeStoreMutation.
func StoreError(err error, textCode, op string) error {
	if err == nil {
		return nil
	}
	return newLayerError(err, CategoryStore, textCode, "store "+op+" failed").
		WithMetadata(map[string]any{"operation": op})
}

// IsCacheError reports whether err originated in the cache layer.
func IsCacheError(err error) bool {
	return goerrors.HasCategory(err, CategoryCacheBackend)
}

// IsStoreError reports whether err originated in the persistent store.
func IsStoreError(err error) bool {
	return goerrors.HasCategory(err, CategoryStore)
}

// IsLockNotAcquired reports whether err is the WithLock contention error.
func IsLockNotAcquired(err error) bool {
	var e *goerrors.Error
	return goerrors.As(err, &e) && e.TextCode == TextCodeLockNotAcquired
}

func logError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if logger == nil || err == nil {
		return
	}
	attrs := append([]slog.Attr{slog.String("error", err.Error())}, goerrors.ToSlogAttributes(err)...)
	logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}
