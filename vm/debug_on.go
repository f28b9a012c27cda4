//go:build objdebug

package vm

const debugChecks = true
