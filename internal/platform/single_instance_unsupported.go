//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

func acquireInstanceLock(name string) (InstanceLock, error) {
	return nil, fmt.Errorf("%w on %s: %s", ErrInstanceLockUnsupported, runtime.GOOS, name)
}
