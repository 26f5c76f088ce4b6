package ports

import "time"

// Clock abstracts wall time and timer scheduling so timeout and
// auto-refresh behavior can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled callback handle. Stop reports whether
// the cancellation happened before the callback started; a false return
// means the callback is running or already ran.
type Timer interface {
	Stop() bool
}

// SystemClock is the production Clock backed by the runtime. Times are UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) Stop() bool { return s.t.Stop() }
