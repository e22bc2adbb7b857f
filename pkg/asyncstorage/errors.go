package asyncstorage

import (
	"errors"
	"fmt"
)

// ErrStoreFailure matches every failure reported by the host store.
var ErrStoreFailure = errors.New("asyncstorage: host store failure")

// OpError reports a failed write-side operation.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("AsyncStorage.%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("AsyncStorage.%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is reports ErrStoreFailure so callers need not know host error types.
func (e *OpError) Is(target error) bool {
	return target == ErrStoreFailure
}
