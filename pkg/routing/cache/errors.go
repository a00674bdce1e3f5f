package cache

import (
	"errors"
	"fmt"
)

var (
	ErrCacheMissing  = errors.New("routing cache not found")
	ErrModelMismatch = errors.New("routing cache was built with a different embedding model")
)

// CacheCorruptError means the artifact cannot be trusted. Routing must fail closed.
type CacheCorruptError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CacheCorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("routing cache %s is corrupt: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("routing cache %s is corrupt: %s", e.Path, e.Reason)
}

func (e *CacheCorruptError) Unwrap() error {
	return e.Err
}

func IsCorrupt(err error) bool {
	var target *CacheCorruptError
	return errors.As(err, &target)
}
