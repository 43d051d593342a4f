// services/errors.go
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrChallengeNotReleased = errors.New("challenge not yet released")
	ErrInvalidTransition    = errors.New("invalid campaign status transition")

	// ErrInputNotRequested rejects a submission from a participant who never
	// fetched their input: their scoring clock never started, so there is
	// nothing to score against.
	ErrInputNotRequested = errors.New("challenge input was never requested")

	// ErrRateLimited is the match target for RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrInputUnavailable is the match target for every GenerationError kind.
	// Submitters see this single class; operators get the full detail in logs.
	ErrInputUnavailable = errors.New("challenge input unavailable")
)

// RateLimitedError carries retry-after guidance for the caller.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

type GenerationKind string

const (
	GenerationExecutionFailed  GenerationKind = "execution_failed"
	GenerationTimeout          GenerationKind = "timeout"
	GenerationValidationFailed GenerationKind = "validation_failed"
)

// GenerationError is a typed failure from the sandbox runner or the output
// validator. None of these leave a cache row behind.
type GenerationError struct {
	Kind   GenerationKind
	Detail string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("input generation %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("input generation %s", e.Kind)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	return target == ErrInputUnavailable
}
