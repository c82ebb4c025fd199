package rl

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferFull is returned by Add when the buffer has no free
	// slot. Callers must choose a policy (drop with a counter, block,
	// resize); the buffer never drops silently.
	ErrBufferFull = errors.New("experience buffer full")

	// ErrBufferNotReady is returned by Batch when advantages have not
	// been computed for the current contents.
	ErrBufferNotReady = errors.New("advantages not computed for current buffer contents")

	// ErrBufferEmpty is returned by operations that need at least one
	// stored transition.
	ErrBufferEmpty = errors.New("experience buffer empty")
)

// ConfigurationError reports an invalid hyperparameter combination.
// It is raised eagerly at construction, never from inside a running
// update.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func configErrf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
