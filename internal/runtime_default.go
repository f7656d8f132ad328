//go:build !wasm

package internal

import "github.com/petermattis/goid"

func currentGID() int64 {
	return goid.Get()
}
