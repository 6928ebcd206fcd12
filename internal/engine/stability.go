package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	defaultStabilityAttempts = 5
	defaultStabilityInterval = 200 * time.Millisecond
)

// StabilityVerifier confirms a file's content has stopped changing before
// the engine acts on it. Filesystem "write complete" events are unreliable
// for in-progress copies; repeated hashing is the ground truth.
type StabilityVerifier struct {
	attempts int
	interval time.Duration
	logger   Logger
}

// NewStabilityVerifier creates a verifier with the given attempt budget and
// inter-attempt delay. Zero values select the defaults (5 attempts, 200ms).
func NewStabilityVerifier(attempts int, interval time.Duration, logger Logger) *StabilityVerifier {
	if attempts <= 0 {
		attempts = defaultStabilityAttempts
	}
	if interval <= 0 {
		interval = defaultStabilityInterval
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &StabilityVerifier{attempts: attempts, interval: interval, logger: logger}
}

// WaitForStable hashes the file repeatedly until two consecutive reads
// produce the same digest, up to the attempt budget. It returns the digest
// and whether stability was confirmed. When the budget runs out it returns
// the last-observed digest with stable=false, a best-effort signal for
// large files still being written by another process, not a failure.
// A read error on any attempt is fatal and propagates immediately.
func (v *StabilityVerifier) WaitForStable(ctx context.Context, path string) (digest string, stable bool, err error) {
	var prev string

	for attempt := 1; attempt <= v.attempts; attempt++ {
		current, err := hashFile(path)
		if err != nil {
			return "", false, fmt.Errorf("hashing %s (attempt %d): %w", path, attempt, err)
		}

		if prev != "" && current == prev {
			v.logger.Debug("file stable", "path", path, "attempts", attempt)
			return current, true, nil
		}
		if prev != "" {
			// Digest changed between reads; the match counter starts over.
			v.logger.Debug("file still changing", "path", path, "attempt", attempt)
		}
		prev = current

		if attempt < v.attempts {
			select {
			case <-time.After(v.interval):
			case <-ctx.Done():
				return prev, false, ctx.Err()
			}
		}
	}

	v.logger.Warn("stability not confirmed within attempt budget", "path", path, "attempts", v.attempts)
	return prev, false, nil
}

// hashFile computes the SHA-256 digest of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
