package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailed is matched by every GenerationFailedError.
	ErrGenerationFailed = errors.New("generation failed")
	ErrInvalidQuery     = errors.New("invalid query")
)

// GenerationFailedError is returned once provider retries are exhausted or
// a non-retryable error stops the pipeline.
type GenerationFailedError struct {
	Attempts int
	Err      error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationFailedError) Is(target error) bool {
	return target == ErrGenerationFailed
}

func (e *GenerationFailedError) Unwrap() error {
	return e.Err
}
