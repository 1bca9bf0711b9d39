package report

import (
	"context"
	stderrors "errors"

	"github.com/jmgilman/go/errors"
)

// Failure codes raised by the offline cache. Network failures reuse the
// shared CodeNetwork and CodeTimeout codes so they stay retryable.
const (
	CodePrecacheAssetFailed      errors.ErrorCode = "PRECACHE_ASSET_FAILED"
	CodeCacheWriteRejected       errors.ErrorCode = "CACHE_WRITE_REJECTED"
	CodeSyncReplayFailed         errors.ErrorCode = "SYNC_REPLAY_FAILED"
	CodeGenerationDeletionFailed errors.ErrorCode = "GENERATION_DELETION_FAILED"
)

// PrecacheAssetFailure reports a manifest entry that could not be fetched or stored.
func PrecacheAssetFailure(url string, cause error) error {
	var err errors.PlatformError
	if cause == nil {
		err = errors.New(CodePrecacheAssetFailed, "failed to precache asset")
	} else {
		err = errors.Wrap(cause, CodePrecacheAssetFailed, "failed to precache asset")
	}
	return errors.WithContext(err, "url", url)
}

// CacheWriteRejected reports an entry that failed the cacheability predicate.
func CacheWriteRejected(key, reason string) error {
	err := errors.Newf(CodeCacheWriteRejected, "cache write rejected: %s", reason)
	return errors.WithContext(err, "key", key)
}

// NetworkUnavailable wraps a failed or timed out fetch. Deadline errors are
// coded as timeouts, everything else as a network error.
func NetworkUnavailable(url string, cause error) error {
	code := errors.CodeNetwork
	if stderrors.Is(cause, context.DeadlineExceeded) {
		code = errors.CodeTimeout
	}
	var err errors.PlatformError
	if cause == nil {
		err = errors.New(code, "network unavailable")
	} else {
		err = errors.Wrap(cause, code, "network unavailable")
	}
	return errors.WithContext(err, "url", url)
}

// SyncReplayFailure reports a queued mutation discarded after its final attempt.
func SyncReplayFailure(id string, attempts int, cause error) error {
	err := errors.Wrapf(cause, CodeSyncReplayFailed, "mutation %s discarded after %d attempts", id, attempts)
	if err == nil {
		err = errors.Newf(CodeSyncReplayFailed, "mutation %s discarded after %d attempts", id, attempts)
	}
	return errors.WithContext(err, "mutation_id", id)
}

// GenerationDeletionFailure reports a stale generation that could not be removed.
func GenerationDeletionFailure(generation string, cause error) error {
	err := errors.Wrap(cause, CodeGenerationDeletionFailed, "failed to delete cache generation")
	if err == nil {
		err = errors.New(CodeGenerationDeletionFailed, "failed to delete cache generation")
	}
	return errors.WithContext(err, "generation", generation)
}

// IsNetworkUnavailable reports whether err came from a failed network fetch.
func IsNetworkUnavailable(err error) bool {
	if err == nil {
		return false
	}
	code := errors.GetCode(err)
	return code == errors.CodeNetwork || code == errors.CodeTimeout
}

// IsPermanent reports whether err carries an explicit permanent classification.
// Plain errors are not considered permanent.
func IsPermanent(err error) bool {
	var pe errors.PlatformError
	if !stderrors.As(err, &pe) {
		return false
	}
	return !pe.Classification().IsRetryable()
}
