package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// ErrParse marks blueprint text that is not valid YAML.
	ErrParse = errors.New("blueprint parse failed")
	// ErrResolution marks a blueprint whose shape breaks input substitution.
	ErrResolution = errors.New("blueprint input resolution failed")
	// ErrEmptyCorpus is returned when a corpus-wide ranking has nothing to fit.
	ErrEmptyCorpus = errors.New("empty corpus")
)
