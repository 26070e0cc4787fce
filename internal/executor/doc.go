// Package executor implements the single cooperative execution domain every
// ratchet and key-material mutation runs on.
//
// Submitted units run strictly one at a time, in submission order: the
// primitive is not reentrant per identity, and serializing globally is a
// conservative choice the rest of the engine relies on (the real work is
// I/O-bound, so throughput cost is negligible). A unit may itself call out
// to transport or store and suspend on that I/O; other units queue behind
// it rather than interleave with it.
package executor
