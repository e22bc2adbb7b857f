//go:build !(js && wasm)

package factory

import (
	"context"
	"strings"
	"testing"

	"github.com/nimburion/asyncstorage/pkg/config"
)

func TestNew_LocalStorageOutsideBrowser(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{Backend: config.BackendLocalStorage}, nil)
	if err == nil || !strings.Contains(err.Error(), "js/wasm") {
		t.Fatalf("expected js/wasm error, got %v", err)
	}
	if store != nil {
		t.Fatalf("expected nil store, got %#v", store)
	}
}
