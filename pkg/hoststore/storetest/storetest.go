// Package storetest runs the async storage contract against a hoststore.Store.
package storetest

import (
	"context"
	"sort"
	"testing"

	"github.com/nimburion/asyncstorage/pkg/asyncstorage"
	"github.com/nimburion/asyncstorage/pkg/hoststore"
)

// Options tunes Run for backends with known limitations.
type Options struct {
	// SkipKeys skips key enumeration checks for backends returning ErrUnsupported.
	SkipKeys bool
}

// Run exercises the read/write/remove/clear contract through asyncstorage.Storage.
// newStore must return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) hoststore.Store, opts Options) {
	t.Helper()

	open := func(t *testing.T) *asyncstorage.Storage {
		t.Helper()
		store := newStore(t)
		t.Cleanup(func() { _ = store.Close() })
		return asyncstorage.New(store)
	}

	get := func(t *testing.T, s *asyncstorage.Storage, key string) asyncstorage.Item {
		t.Helper()
		item, err := s.GetItem(context.Background(), key).Await()
		if err != nil {
			t.Fatalf("GetItem(%q) error = %v", key, err)
		}
		return item
	}

	set := func(t *testing.T, s *asyncstorage.Storage, key, value string) {
		t.Helper()
		if err := s.SetItem(context.Background(), key, value).Err(); err != nil {
			t.Fatalf("SetItem(%q) error = %v", key, err)
		}
	}

	t.Run("missing key is absent", func(t *testing.T) {
		s := open(t)
		if item := get(t, s, "never-written"); item.Found {
			t.Fatalf("expected absent, got %+v", item)
		}
	})

	t.Run("round trip and overwrite", func(t *testing.T) {
		s := open(t)
		set(t, s, "user:token", "v1")
		if item := get(t, s, "user:token"); !item.Found || item.Value != "v1" {
			t.Fatalf("got %+v, want v1", item)
		}
		set(t, s, "user:token", "v2 with spaces\nand newline")
		if item := get(t, s, "user:token"); item.Value != "v2 with spaces\nand newline" {
			t.Fatalf("got %q, want overwritten value", item.Value)
		}
	})

	t.Run("remove present and missing keys", func(t *testing.T) {
		s := open(t)
		set(t, s, "k", "v")
		for _, key := range []string{"k", "k", "absent"} {
			if err := s.RemoveItem(context.Background(), key).Err(); err != nil {
				t.Fatalf("RemoveItem(%q) error = %v", key, err)
			}
		}
		if item := get(t, s, "k"); item.Found {
			t.Fatalf("expected k absent after remove, got %+v", item)
		}
	})

	t.Run("clear scenario", func(t *testing.T) {
		s := open(t)
		set(t, s, "a", "1")
		set(t, s, "b", "2")
		if item := get(t, s, "a"); item.Value != "1" {
			t.Fatalf(`GetItem("a") = %+v, want "1"`, item)
		}
		if err := s.Clear(context.Background()).Err(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		for _, key := range []string{"a", "b"} {
			if item := get(t, s, key); item.Found {
				t.Fatalf("GetItem(%q) after clear = %+v, want absent", key, item)
			}
		}
	})

	if opts.SkipKeys {
		return
	}

	t.Run("keys", func(t *testing.T) {
		s := open(t)
		set(t, s, "b", "2")
		set(t, s, "a", "1")
		set(t, s, "a", "3")
		keys, err := s.GetAllKeys(context.Background()).Await()
		if err != nil {
			t.Fatalf("GetAllKeys() error = %v", err)
		}
		if !sort.StringsAreSorted(keys) || len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
			t.Fatalf("GetAllKeys() = %v, want [a b]", keys)
		}
	})
}
