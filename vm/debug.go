package vm

import "fmt"

// assertf panics with the formatted message when cond is false and
// debugChecks is on. Release builds compile the check away.
func assertf(cond bool, format string, args ...any) {
	if debugChecks && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
