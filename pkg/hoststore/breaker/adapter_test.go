package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/asyncstorage/pkg/asyncstorage"
)

func TestStore_OpenCircuitThroughAdapter(t *testing.T) {
	flaky := newFlakyStore()
	s, c := newTestStore(flaky, 2, time.Second)
	storage := asyncstorage.New(s)
	ctx := context.Background()

	if err := storage.SetItem(ctx, "theme", "dark").Err(); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}

	flaky.down = true
	for i := 0; i < 2; i++ {
		err := storage.SetItem(ctx, "theme", "light").Err()
		if !errors.Is(err, asyncstorage.ErrStoreFailure) || !errors.Is(err, errUnreachable) {
			t.Fatalf("SetItem() #%d error = %v", i, err)
		}
	}
	if s.State() != StateOpen {
		t.Fatalf("expected open, got %v", s.State())
	}

	calls := flaky.calls
	item, err := storage.GetItem(ctx, "theme").Await()
	if err != nil {
		t.Fatalf("GetItem() error = %v, want a miss", err)
	}
	if item.Found || item.Value != "" {
		t.Fatalf("GetItem() = %+v, want a miss", item)
	}

	err = storage.SetItem(ctx, "theme", "light").Err()
	if !errors.Is(err, asyncstorage.ErrStoreFailure) {
		t.Fatalf("SetItem() error = %v, want ErrStoreFailure", err)
	}
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("SetItem() error = %v, want ErrOpen", err)
	}
	var opErr *asyncstorage.OpError
	if !errors.As(err, &opErr) || opErr.Op != asyncstorage.OpSetItem || opErr.Key != "theme" {
		t.Fatalf("SetItem() error = %#v", err)
	}
	if flaky.calls != calls {
		t.Fatalf("open circuit reached the host %d times", flaky.calls-calls)
	}

	c.advance(time.Second)
	flaky.down = false
	if err := storage.SetItem(ctx, "theme", "light").Err(); err != nil {
		t.Fatalf("SetItem() after reset error = %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %v", s.State())
	}
	item, err = storage.GetItem(ctx, "theme").Await()
	if err != nil || !item.Found || item.Value != "light" {
		t.Fatalf("GetItem() = %+v, %v", item, err)
	}
}
