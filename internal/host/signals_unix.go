//go:build !windows

package host

import (
	"os"
	"syscall"
)

var (
	resumeSignals  = []os.Signal{syscall.SIGCONT}
	suspendSignals = []os.Signal{syscall.SIGUSR1}
)
