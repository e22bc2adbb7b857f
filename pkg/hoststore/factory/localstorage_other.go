//go:build !(js && wasm)

package factory

import (
	"errors"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
)

func newLocalStorage() (hoststore.Store, error) {
	return nil, errors.New("storage.backend localstorage requires a js/wasm build")
}
