//go:build js && wasm

package factory

import (
	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/hoststore/localstorage"
)

func newLocalStorage() (hoststore.Store, error) {
	store, err := localstorage.New()
	if err != nil {
		return nil, err
	}
	return store, nil
}
