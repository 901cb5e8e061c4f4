package eventlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"maceff.io/macf/cmd/macf/cli/jsonutil"
	"maceff.io/macf/cmd/macf/cli/paths"
	"maceff.io/macf/cmd/macf/cli/validation"
)

// Lock acquisition policy: poll at 1 ms under a 10 s deadline. Concurrent
// hook processes serialize appends through this lock; the tight poll keeps
// contended writers queued behind the holder instead of sampling the lock a
// few times and giving up. The deadline only fires for a genuinely stuck
// holder, not for ordinary contention.
const (
	lockTimeout = 10 * time.Second
	lockPoll    = time.Millisecond
)

// ErrLockTimeout is returned when the advisory lock cannot be acquired
// within the bounded retry window. Callers must not swallow it silently.
var ErrLockTimeout = errors.New("event log lock timeout")

// Log is a handle to one event log file. The zero value is not usable; use
// Open or OpenDefault.
type Log struct {
	path string
}

// Open returns a Log bound to path. The file is created lazily on first
// append; reads on a missing file yield an empty sequence.
func Open(path string) *Log {
	return &Log{path: path}
}

// OpenDefault resolves the event log location through the path resolver
// (honoring MACF_EVENTS_LOG_PATH) and returns a Log bound to it.
func OpenDefault() (*Log, error) {
	p, err := paths.EventsLogPath()
	if err != nil {
		return nil, err
	}
	return Open(p), nil
}

// Path returns the file the log is bound to.
func (l *Log) Path() string {
	return l.path
}

// Append serializes the event to one JSON line and appends it under an
// exclusive advisory lock. The write is a single write(2) of line+newline
// followed by a best-effort sync; it never partially commits a line.
//
// The lock is released before Append returns, so callers never hold it
// across other I/O.
func (l *Log) Append(e Event) error {
	if err := validation.ValidateEventName(e.Event); err != nil {
		return err
	}

	line, err := jsonutil.MarshalLine(e)
	if err != nil {
		return fmt.Errorf("serializing event %q: %w", e.Event, err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating event log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path from resolver or test override
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close() //nolint:errcheck // close after explicit sync below

	lock := flock.New(l.path)
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, lockPoll)
	if err != nil || !locked {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
		}
		return fmt.Errorf("locking event log: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck // advisory unlock, close releases it regardless

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending event %q: %w", e.Event, err)
	}
	// Best-effort durability; append ordering is already guaranteed by the
	// lock, not by sync.
	_ = f.Sync()

	return nil
}

// AppendNow builds an event stamped with the current time and appends it.
// Returns the appended event.
func (l *Log) AppendNow(name, breadcrumb string, data, hookInput map[string]any) (Event, error) {
	e := New(name, breadcrumb, data, hookInput)
	if err := l.Append(e); err != nil {
		return Event{}, err
	}
	return e, nil
}
