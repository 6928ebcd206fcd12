package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ErrorCode identifies a failure class in the sync error taxonomy.
type ErrorCode string

const (
	// Retryable networking failures.
	CodeNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	CodeNetworkOffline ErrorCode = "NETWORK_OFFLINE"
	CodeGatewayError   ErrorCode = "GATEWAY_ERROR"

	// Non-retryable filesystem failures.
	CodeInsufficientSpace ErrorCode = "INSUFFICIENT_SPACE"
	CodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	CodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"

	// Retryable data-integrity failures.
	CodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"
	CodeSizeMismatch     ErrorCode = "SIZE_MISMATCH"

	// Non-retryable catch-alls.
	CodeSyncCancelled ErrorCode = "SYNC_CANCELLED"
	CodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	CodeUnknown       ErrorCode = "UNKNOWN_ERROR"
)

// SyncError is a classified failure. Message is diagnostic; UserMessage is
// what a UI may show. Cause carries the original error for errors.Is/As.
type SyncError struct {
	Code        ErrorCode
	Retryable   bool
	Message     string
	UserMessage string
	Cause       error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// NewSyncError builds a SyncError for a known code with standard
// retryability and user messaging.
func NewSyncError(code ErrorCode, cause error) *SyncError {
	meta, ok := errorMeta[code]
	if !ok {
		meta = errorMeta[CodeUnknown]
		code = CodeUnknown
	}
	msg := meta.message
	if cause != nil {
		msg = cause.Error()
	}
	userMsg := meta.userMessage
	if meta.retryable {
		userMsg += " It will be retried automatically."
	}
	return &SyncError{
		Code:        code,
		Retryable:   meta.retryable,
		Message:     msg,
		UserMessage: userMsg,
		Cause:       cause,
	}
}

type errorInfo struct {
	retryable   bool
	message     string
	userMessage string
}

var errorMeta = map[ErrorCode]errorInfo{
	CodeNetworkTimeout:    {true, "network request timed out", "The network connection timed out."},
	CodeNetworkOffline:    {true, "network is unreachable", "You appear to be offline."},
	CodeGatewayError:      {true, "gateway returned a server error", "The storage gateway had a temporary problem."},
	CodeInsufficientSpace: {false, "not enough disk space", "There is not enough free disk space to complete this operation."},
	CodePermissionDenied:  {false, "permission denied", "You do not have permission to access this file."},
	CodeFileNotFound:      {false, "file not found", "The file could not be found on disk."},
	CodeChecksumMismatch:  {true, "content checksum mismatch", "The transferred data did not match its checksum."},
	CodeSizeMismatch:      {true, "content size mismatch", "The transferred data had an unexpected size."},
	CodeSyncCancelled:     {false, "sync operation cancelled", "The operation was cancelled."},
	CodeQuotaExceeded:     {false, "storage quota exceeded", "Your storage quota has been exceeded."},
	CodeUnknown:           {false, "unknown error", "An unexpected error occurred."},
}

// timeoutError matches net.Error and similar interfaces without importing net.
type timeoutError interface {
	Timeout() bool
}

// Classify maps a raw OS or network error to the taxonomy. Unknown errors
// classify as non-retryable UNKNOWN_ERROR carrying the original cause.
// An error that is already a *SyncError passes through unchanged.
func Classify(err error) *SyncError {
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	var te timeoutError
	if errors.As(err, &te) && te.Timeout() {
		return NewSyncError(CodeNetworkTimeout, err)
	}

	// Raw error strings from the OS and gateway clients. Substring matching
	// is the only signal available once the error has crossed a process or
	// library boundary as text.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "etimedout", "timeout", "timed out", "deadline exceeded"):
		return NewSyncError(CodeNetworkTimeout, err)
	case containsAny(msg, "enotfound", "enetunreach", "econnrefused", "econnreset", "network is unreachable", "no such host", "connection refused", "connection reset"):
		return NewSyncError(CodeNetworkOffline, err)
	case containsAny(msg, "502", "503", "504", "bad gateway", "service unavailable", "gateway timeout"):
		return NewSyncError(CodeGatewayError, err)
	case containsAny(msg, "enospc", "no space left"):
		return NewSyncError(CodeInsufficientSpace, err)
	case containsAny(msg, "eacces", "eperm", "permission denied", "operation not permitted"):
		return NewSyncError(CodePermissionDenied, err)
	case containsAny(msg, "enoent", "no such file"):
		return NewSyncError(CodeFileNotFound, err)
	case containsAny(msg, "checksum mismatch", "hash mismatch"):
		return NewSyncError(CodeChecksumMismatch, err)
	case containsAny(msg, "size mismatch"):
		return NewSyncError(CodeSizeMismatch, err)
	case containsAny(msg, "cancelled", "canceled"):
		return NewSyncError(CodeSyncCancelled, err)
	case containsAny(msg, "quota"):
		return NewSyncError(CodeQuotaExceeded, err)
	default:
		return NewSyncError(CodeUnknown, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RetryPolicy decides whether failures are retried and schedules per-item
// exponential backoff with jitter. Safe for concurrent use.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Retryable    map[ErrorCode]bool

	mu     sync.Mutex
	delays map[string]time.Duration // itemID -> last un-jittered delay
	rng    *rand.Rand
}

// DefaultRetryPolicy returns the standard policy: 3 retries, 1s initial
// delay doubling up to 30s, retrying only transient network failures.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second, 30*time.Second, 2)
}

// NewRetryPolicy builds a policy with the default retryable code set.
func NewRetryPolicy(maxRetries int, initial, max time.Duration, multiplier float64) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		Retryable: map[ErrorCode]bool{
			CodeNetworkTimeout: true,
			CodeNetworkOffline: true,
			CodeGatewayError:   true,
		},
		delays: make(map[string]time.Duration),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ShouldRetry reports whether a failed attempt should be retried.
// attempt is the number of the attempt that just failed (1-based).
func (p *RetryPolicy) ShouldRetry(err error, attempt, maxRetries int) bool {
	syncErr := Classify(err)
	if syncErr == nil || !syncErr.Retryable {
		return false
	}
	if !p.Retryable[syncErr.Code] {
		return false
	}
	return attempt < maxRetries
}

// RetryDelay computes the backoff before the next attempt for itemID:
// min(initial * multiplier^(attempt-1), max) plus up to 30% random jitter.
// The un-jittered delay is remembered per item so repeated calls compound
// rather than restart; ResetRetryDelay must be called on success.
func (p *RetryPolicy) RetryDelay(itemID string, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delay := time.Duration(float64(p.InitialDelay) * pow(p.Multiplier, attempt-1))
	if prev, ok := p.delays[itemID]; ok {
		compounded := time.Duration(float64(prev) * p.Multiplier)
		if compounded > delay {
			delay = compounded
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	p.delays[itemID] = delay

	jitter := time.Duration(p.rng.Float64() * 0.3 * float64(delay))
	return delay + jitter
}

// ResetRetryDelay clears remembered backoff state for itemID. Call on
// success, or subsequent attempts inherit a stale, possibly maximal delay.
func (p *RetryPolicy) ResetRetryDelay(itemID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.delays, itemID)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
