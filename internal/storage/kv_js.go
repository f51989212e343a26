//go:build js && wasm

package storage

import (
	"fmt"
	"syscall/js"
)

// WebStorage adapts window.sessionStorage or window.localStorage.
type WebStorage struct {
	v js.Value
}

// SessionStorage returns the page's sessionStorage.
func SessionStorage() (*WebStorage, error) {
	v := js.Global().Get("sessionStorage")
	if v.IsUndefined() || v.IsNull() {
		return nil, fmt.Errorf("sessionStorage is not available")
	}
	return &WebStorage{v: v}, nil
}

func (w *WebStorage) GetItem(key string) (value string, ok bool, err error) {
	defer recoverJS(&err)
	item := w.v.Call("getItem", key)
	if item.IsNull() || item.IsUndefined() {
		return "", false, nil
	}
	return item.String(), true, nil
}

func (w *WebStorage) SetItem(key, value string) (err error) {
	defer recoverJS(&err)
	w.v.Call("setItem", key, value)
	return nil
}

func (w *WebStorage) RemoveItem(key string) (err error) {
	defer recoverJS(&err)
	w.v.Call("removeItem", key)
	return nil
}

// recoverJS turns a thrown JS exception (quota exceeded, storage disabled)
// into an error.
func recoverJS(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("web storage: %v", r)
	}
}
