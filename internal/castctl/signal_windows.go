//go:build windows

package castctl

import "os"

var terminateSignal = os.Kill
