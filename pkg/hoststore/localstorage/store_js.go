//go:build js && wasm

package localstorage

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"
)

// Store wraps a Web Storage object.
//
//	interface Storage {
//	  readonly length: number;
//	  key(index: number): string | null;
//	  getItem(key: string): string | null;
//	  setItem(key: string, value: string): void;
//	  removeItem(key: string): void;
//	  clear(): void;
//	}
type Store struct {
	storage js.Value
}

// New binds to window.localStorage. Browsers with storage disabled throw a
// SecurityError on access, which is returned as an error.
func New() (*Store, error) {
	var v js.Value
	if err := catch(func() { v = js.Global().Get("localStorage") }); err != nil {
		return nil, err
	}
	return NewFromValue(v)
}

// NewFromValue wraps any Storage object, e.g. window.sessionStorage.
func NewFromValue(v js.Value) (*Store, error) {
	if v.IsUndefined() || v.IsNull() {
		return nil, errors.New("localStorage is not available")
	}
	return &Store{storage: v}, nil
}

// Get calls getItem. A null result is a miss.
func (s *Store) Get(_ context.Context, key string) (value string, found bool, err error) {
	err = catch(func() {
		res := s.storage.Call("getItem", key)
		if res.IsNull() || res.IsUndefined() {
			return
		}
		value, found = res.String(), true
	})
	return value, found, err
}

// Set calls setItem. A full quota surfaces as QuotaExceededError.
func (s *Store) Set(_ context.Context, key, value string) error {
	return catch(func() { s.storage.Call("setItem", key, value) })
}

// Remove calls removeItem.
func (s *Store) Remove(_ context.Context, key string) error {
	return catch(func() { s.storage.Call("removeItem", key) })
}

// Clear calls clear.
func (s *Store) Clear(context.Context) error {
	return catch(func() { s.storage.Call("clear") })
}

// Keys walks key(0) .. key(length-1).
func (s *Store) Keys(context.Context) (keys []string, err error) {
	err = catch(func() {
		n := s.storage.Get("length").Int()
		keys = make([]string, 0, n)
		for i := 0; i < n; i++ {
			k := s.storage.Call("key", i)
			if k.IsNull() {
				continue
			}
			keys = append(keys, k.String())
		}
	})
	return keys, err
}

// HealthCheck reads the length property.
func (s *Store) HealthCheck(context.Context) error {
	return catch(func() { _ = s.storage.Get("length").Int() })
}

// Close is a no-op; the browser owns the storage.
func (s *Store) Close() error {
	return nil
}

// catch converts a thrown JavaScript exception into an error.
func catch(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		jsErr, ok := r.(js.Error)
		if !ok {
			panic(r)
		}
		err = fmt.Errorf("localStorage: %w", jsErr)
	}()
	fn()
	return nil
}
