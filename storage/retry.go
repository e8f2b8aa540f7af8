// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds how often a failed I/O operation is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles on each retry.
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
	}
}

// IsTransient reports whether err is an I/O failure worth retrying.
// Invalid input, corruption and closed stores are permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrIO) &&
		!errors.Is(err, ErrCorruptStore) &&
		!errors.Is(err, ErrStorageClosed)
}

// delay returns the backoff before the given retry, counting from 1.
func (p RetryPolicy) delay(retry int) time.Duration {
	return p.BaseDelay << (retry - 1)
}

// RetryIO runs operation under policy, retrying only transient I/O errors.
// The error from the last attempt is returned once the policy is exhausted.
func RetryIO(ctx context.Context, policy RetryPolicy, operation func() error) error {
	if policy.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = operation(); err == nil {
			if attempt > 1 {
				slog.Debug("storage operation recovered", "attempt", attempt)
			}
			return nil
		}
		if !IsTransient(err) || attempt == policy.MaxAttempts {
			return err
		}

		wait := policy.delay(attempt)
		slog.Debug("storage operation failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
