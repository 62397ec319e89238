package main

import "os"

// shutdownSignals lists the OS signals that stop the server gracefully.
// signals_unix.go appends SIGTERM where it exists.
var shutdownSignals = []os.Signal{os.Interrupt}
