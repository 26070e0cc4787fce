package crypto

import "runtime"

// Wipe zeroes key material in place once it is no longer needed. Best
// effort: Go makes no hard guarantee the stores survive optimisation, so
// the function stays out of line and pins the buffer until it returns.
//
//go:noinline
func Wipe(b []byte) {
	clear(b)
	runtime.KeepAlive(&b)
}
