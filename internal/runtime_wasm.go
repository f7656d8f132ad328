//go:build wasm

package internal

// wasm runs the runtime from the single js event goroutine.
func currentGID() int64 {
	return 1
}
