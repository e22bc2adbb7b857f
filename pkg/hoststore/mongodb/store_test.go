package mongodb

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/hoststore/storetest"
)

type fakeCollection struct {
	mu      sync.Mutex
	docs    map[string]string
	err     error
	upserts int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: map[string]string{}}
}

func idOf(filter interface{}) string {
	if m, ok := filter.(bson.M); ok {
		id, _ := m["_id"].(string)
		return id
	}
	return ""
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.err, nil)
	}
	id := idOf(filter)
	value, ok := f.docs[id]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(bson.M{"_id": id, "value": value}, nil, nil)
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(opts) == 0 || opts[0].Upsert == nil || !*opts[0].Upsert {
		return nil, errors.New("expected upsert")
	}
	doc := replacement.(document)
	f.docs[idOf(filter)] = doc.Value
	f.upserts++
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := idOf(filter)
	_, ok := f.docs[id]
	delete(f.docs, id)
	if ok {
		return &mongo.DeleteResult{DeletedCount: 1}, nil
	}
	return &mongo.DeleteResult{}, nil
}

func (f *fakeCollection) DeleteMany(context.Context, interface{}, ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.docs)
	f.docs = map[string]string{}
	return &mongo.DeleteResult{DeletedCount: int64(n)}, nil
}

func (f *fakeCollection) Distinct(context.Context, string, interface{}, ...*options.DistinctOptions) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]interface{}, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeConnection struct {
	pingErr      error
	disconnected int
}

func (c *fakeConnection) Ping(context.Context, *readpref.ReadPref) error { return c.pingErr }

func (c *fakeConnection) Disconnect(context.Context) error {
	c.disconnected++
	return nil
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(*testing.T) hoststore.Store {
		return newStore(&fakeConnection{}, newFakeCollection(), Config{}, nil)
	}, storetest.Options{})
}

func TestStore_UsesUpsert(t *testing.T) {
	coll := newFakeCollection()
	s := newStore(&fakeConnection{}, coll, Config{}, nil)
	ctx := context.Background()

	_ = s.Set(ctx, "k", "v1")
	_ = s.Set(ctx, "k", "v2")
	if coll.upserts != 2 || len(coll.docs) != 1 {
		t.Fatalf("upserts = %d docs = %v", coll.upserts, coll.docs)
	}
}

func TestStore_Keys(t *testing.T) {
	s := newStore(&fakeConnection{}, newFakeCollection(), Config{}, nil)
	ctx := context.Background()
	_ = s.Set(ctx, "b", "2")
	_ = s.Set(ctx, "a", "1")

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("Keys() = %v", keys)
	}
}

func TestStore_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("server selection timeout")
	coll := newFakeCollection()
	coll.err = boom
	conn := &fakeConnection{pingErr: boom}
	s := newStore(conn, coll, Config{}, nil)
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v", err)
	}
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, boom) {
		t.Errorf("Set() error = %v", err)
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

func TestStore_CloseIdempotent(t *testing.T) {
	conn := &fakeConnection{}
	s := newStore(conn, newFakeCollection(), Config{}, nil)
	_ = s.Close()
	_ = s.Close()
	if conn.disconnected != 1 {
		t.Fatalf("disconnected = %d, want 1", conn.disconnected)
	}
	if err := s.Remove(context.Background(), "k"); !errors.Is(err, hoststore.ErrClosed) {
		t.Fatalf("Remove() after close error = %v", err)
	}
}

func TestCollectionName(t *testing.T) {
	if got, err := collectionName(""); err != nil || got != hoststore.DefaultScope {
		t.Errorf("collectionName(\"\") = %q, %v", got, err)
	}
	if got, err := collectionName(" app_prefs "); err != nil || got != "app_prefs" {
		t.Errorf("collectionName(app_prefs) = %q, %v", got, err)
	}
	for _, scope := range []string{"app$prefs", "app\x00prefs", "system.users"} {
		if _, err := collectionName(scope); err == nil {
			t.Errorf("collectionName(%q) accepted a name that would collide or be refused", scope)
		}
	}
}

func TestNew_RejectsInvalidScope(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "mongodb://localhost", Database: "db", Scope: "app$prefs"}, nil)
	if err == nil || !strings.Contains(err.Error(), "not a valid collection name") {
		t.Fatalf("New() error = %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(context.Background(), Config{Database: "db"}, nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := New(context.Background(), Config{URL: "mongodb://localhost"}, nil); err == nil {
		t.Fatal("expected error for empty database")
	}
}
