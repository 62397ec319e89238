//go:build !windows

package main

import "syscall"

func init() {
	// SIGTERM is what container runtimes send on stop.
	shutdownSignals = append(shutdownSignals, syscall.SIGTERM)
}
