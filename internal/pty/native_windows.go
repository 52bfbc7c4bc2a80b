//go:build windows

package pty

import "errors"

// NativeBackend is unavailable on Windows.
type NativeBackend struct{}

func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (NativeBackend) OpenPair(Size) (Pair, error) {
	return nil, errors.New("pty: pseudo-terminals are not supported on windows")
}
