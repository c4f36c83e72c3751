package voxel

import (
	"errors"
	"fmt"
)

// Sentinel error kinds observed by the pipeline, per the error handling
// design: each is wrapped with context via fmt.Errorf("...: %w", kind)
// so callers can still errors.Is against the kind while getting a
// message that names the file, task or chunk involved.
var (
	ErrValidation        = errors.New("validation error")
	ErrUnknownFile       = errors.New("unknown file")
	ErrParserNotFound    = errors.New("no parser registered for file extension")
	ErrChunkNotReady     = errors.New("chunk not ready")
	ErrChunkTimeout      = errors.New("chunk timed out waiting for readiness")
	ErrChunkGone         = errors.New("chunk already consumed")
	ErrTaskExpired       = errors.New("task expired or not found")
	ErrTransport         = errors.New("transport error")
	ErrCache             = errors.New("cache error")
	ErrMergeSizeMismatch = errors.New("merged chunk sizes do not match data length")
)

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// UnknownFilef builds an UnknownFile error naming the offending file.
func UnknownFilef(file string) error {
	return fmt.Errorf("file %q: %w", file, ErrUnknownFile)
}

// ParserNotFoundf builds a ParserNotFound error naming the extension.
func ParserNotFoundf(ext string) error {
	return fmt.Errorf("extension %q: %w", ext, ErrParserNotFound)
}

// ChunkTimeoutf builds a ChunkTimeout error naming the chunk index and
// the number of attempts exhausted.
func ChunkTimeoutf(chunkIndex uint32, attempts int) error {
	return fmt.Errorf("chunk %d not ready after %d retries: %w", chunkIndex, attempts, ErrChunkTimeout)
}

// ChunkGonef builds a ChunkGone error naming the chunk index.
func ChunkGonef(chunkIndex uint32) error {
	return fmt.Errorf("chunk %d: %w", chunkIndex, ErrChunkGone)
}

// TaskExpiredf builds a TaskExpired error naming the task id.
func TaskExpiredf(taskID string) error {
	return fmt.Errorf("task %q: %w", taskID, ErrTaskExpired)
}

// Transportf builds a TransportError wrapping a lower-level cause.
func Transportf(format string, args ...interface{}) error {
	args = append(args, ErrTransport)
	return fmt.Errorf(format+": %w", args...)
}

// Cachef builds a CacheError wrapping a lower-level cause. Cache errors
// are never fatal to a load: callers log and degrade rather than
// propagate these to loadData's caller.
func Cachef(format string, args ...interface{}) error {
	args = append(args, ErrCache)
	return fmt.Errorf(format+": %w", args...)
}

// MergeSizeMismatchf builds a MergeSizeMismatch error reporting the
// expected vs. actual element counts.
func MergeSizeMismatchf(expected, got uint64) error {
	return fmt.Errorf("expected %d elements, got %d: %w", expected, got, ErrMergeSizeMismatch)
}
