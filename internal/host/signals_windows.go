//go:build windows

package host

import "os"

var (
	resumeSignals  []os.Signal
	suspendSignals []os.Signal
)
