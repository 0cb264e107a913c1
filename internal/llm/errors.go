package llm

import (
	"errors"
	"fmt"
)

// ModelNotFoundError reports a model id unknown to the backend.
type ModelNotFoundError struct {
	ModelID string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model not found: %s", e.ModelID)
}

// ModelLoadError reports a failed model load.
type ModelLoadError struct {
	ModelID string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.ModelID, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ModelNotLoadedError reports an operation that requires a resident model.
type ModelNotLoadedError struct {
	ModelID string
}

func (e *ModelNotLoadedError) Error() string {
	return fmt.Sprintf("model not loaded: %s", e.ModelID)
}

// GenerationError reports a failed completion. Treated as transient by
// the decision loop's retry predicate.
type GenerationError struct {
	ModelID string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate with %s: %v", e.ModelID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a ModelNotFoundError.
func IsNotFound(err error) bool {
	var nf *ModelNotFoundError
	return errors.As(err, &nf)
}

// IsGeneration reports whether err is a GenerationError.
func IsGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
