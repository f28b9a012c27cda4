//go:build !objdebug

package vm

// debugChecks enables internal invariant assertions. Build with
// -tags objdebug to turn them on.
const debugChecks = false
