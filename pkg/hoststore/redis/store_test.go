package redis

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/hoststore/storetest"
)

// fakeClient keeps strings in a map. Scan returns matches two at a time so
// cursor handling is exercised.
type fakeClient struct {
	mu      sync.Mutex
	data    map[string]string
	err     error
	scans   []string
	deleted int
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	value, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	f.deleted += int(n)
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Scan(_ context.Context, cursor uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, match)
	if f.err != nil {
		return redis.NewScanCmdResult(nil, 0, f.err)
	}

	prefix := strings.TrimSuffix(match, "*")
	prefix = strings.NewReplacer(`\\`, `\`, `\*`, `*`, `\?`, `?`, `\[`, `[`, `\]`, `]`).Replace(prefix)
	var matches []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, key)
		}
	}
	sort.Strings(matches)

	start := int(cursor)
	if start >= len(matches) {
		return redis.NewScanCmdResult(nil, 0, nil)
	}
	end := start + 2
	if end >= len(matches) {
		return redis.NewScanCmdResult(matches[start:], 0, nil)
	}
	return redis.NewScanCmdResult(matches[start:end], uint64(end), nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) Close() error { return nil }

func mustNewStore(t *testing.T, client redisClient, cfg Config) *Store {
	t.Helper()
	s, err := newStore(client, cfg, nil)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) hoststore.Store {
		return mustNewStore(t, newFakeClient(), Config{Scope: "contract"})
	}, storetest.Options{})
}

func TestStore_ScopeSharingAPrefixIsIsolated(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	app := mustNewStore(t, client, Config{Scope: "app"})
	appV2 := mustNewStore(t, client, Config{Scope: "appv2"})

	if err := appV2.Set(ctx, "token", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := app.Set(ctx, "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	keys, err := app.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"theme"}) {
		t.Fatalf("app.Keys() = %v", keys)
	}
	if err := app.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if value, found, err := appV2.Get(ctx, "token"); err != nil || !found || value != "secret" {
		t.Fatalf("appv2 token after app.Clear = %q, %v, %v", value, found, err)
	}
}

func TestStore_RejectsSeparatorInScope(t *testing.T) {
	if _, err := newStore(newFakeClient(), Config{Scope: "app:v2"}, nil); err == nil {
		t.Fatal("expected error for scope containing ':'")
	}
	_, err := New(context.Background(), Config{URL: "redis://127.0.0.1:1/0", Scope: "app:v2"}, nil)
	if err == nil || !strings.Contains(err.Error(), "must not contain ':'") {
		t.Fatalf("New() error = %v", err)
	}
}

func TestStore_ClearIsScoped(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.data["other:keep"] = "1"

	s := mustNewStore(t, client, Config{Scope: "app"})
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Set(ctx, k, k); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if client.deleted != 5 {
		t.Errorf("deleted = %d, want 5", client.deleted)
	}
	if _, ok := client.data["other:keep"]; !ok {
		t.Error("clear removed a key of another scope")
	}
}

func TestStore_KeysStripScope(t *testing.T) {
	ctx := context.Background()
	s := mustNewStore(t, newFakeClient(), Config{Scope: "app"})
	_ = s.Set(ctx, "user:1", "x")
	_ = s.Set(ctx, "theme", "y")

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"theme", "user:1"}) {
		t.Fatalf("Keys() = %v", keys)
	}
}

func TestStore_ScanPatternEscapesScope(t *testing.T) {
	client := newFakeClient()
	s := mustNewStore(t, client, Config{Scope: "a*b"})
	if _, err := s.Keys(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(client.scans) == 0 || client.scans[0] != `a\*b:*` {
		t.Fatalf("scan pattern = %v", client.scans)
	}
}

func TestStore_DefaultScope(t *testing.T) {
	s := mustNewStore(t, newFakeClient(), Config{})
	if s.scope != hoststore.DefaultScope {
		t.Fatalf("scope = %q", s.scope)
	}
	if s.opTimeout != 5*time.Second {
		t.Fatalf("opTimeout = %v", s.opTimeout)
	}
}

func TestStore_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("READONLY You can't write against a read only replica")
	client := newFakeClient()
	client.err = boom
	s := mustNewStore(t, client, Config{})
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v", err)
	}
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, boom) {
		t.Errorf("Set() error = %v", err)
	}
	if err := s.Remove(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Remove() error = %v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, boom) {
		t.Errorf("Clear() error = %v", err)
	}
	if _, err := s.Keys(ctx); !errors.Is(err, boom) {
		t.Errorf("Keys() error = %v", err)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, boom) {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := New(context.Background(), Config{URL: "://bad"}, nil); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
