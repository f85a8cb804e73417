//go:build !windows

package castctl

import "syscall"

var terminateSignal = syscall.SIGTERM
