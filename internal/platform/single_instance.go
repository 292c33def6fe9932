package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInstanceAlreadyRunning indicates another process already syncs the same profile.
var ErrInstanceAlreadyRunning = errors.New("instance already running")

// ErrInstanceLockUnsupported indicates the current platform has no lock backend implementation.
var ErrInstanceLockUnsupported = errors.New("instance lock unsupported")

// InstanceLock represents an acquired single-instance lock.
type InstanceLock interface {
	Release() error
}

// RunningInstanceError reports the owner of a held lock. PID is 0 when the
// platform cannot tell.
type RunningInstanceError struct {
	Name string
	PID  int
}

func (e *RunningInstanceError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: %s (pid %d)", ErrInstanceAlreadyRunning, e.Name, e.PID)
	}

	return fmt.Sprintf("%s: %s", ErrInstanceAlreadyRunning, e.Name)
}

func (e *RunningInstanceError) Unwrap() error { return ErrInstanceAlreadyRunning }

// AcquireInstanceLock takes the lock for one sync profile of appID. Two
// processes may run side by side only for different profiles, e.g. different
// accounts. An empty profile locks the default profile.
func AcquireInstanceLock(appID, profile string) (InstanceLock, error) {
	return acquireInstanceLock(InstanceLockName(appID, profile))
}

// InstanceLockName builds a file and mutex safe lock name.
func InstanceLockName(appID, profile string) string {
	name := normalizeInstanceLockComponent(appID, "app")
	if p := normalizeInstanceLockComponent(strings.ToLower(profile), ""); p != "" {
		name += "." + p
	}

	return name
}

// ProfileKey derives a lock profile from a server endpoint and login.
func ProfileKey(endpoint, user string) string {
	endpoint = strings.TrimSpace(endpoint)
	for _, prefix := range []string{"https://", "http://"} {
		endpoint = strings.TrimPrefix(endpoint, prefix)
	}
	endpoint = strings.TrimRight(endpoint, "/")
	user = strings.TrimSpace(user)
	if endpoint == "" && user == "" {
		return ""
	}

	return user + "@" + endpoint
}

func normalizeInstanceLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
