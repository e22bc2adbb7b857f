// Package localstorage exposes the browser's window.localStorage (or any
// object implementing the Web Storage interface) as a hoststore.Store when the
// program is compiled for js/wasm.
//
// The browser already isolates storage per origin, so Clear empties the whole
// Storage object, exactly as localStorage.clear() does.
package localstorage
