// Package loop implements the cooperative, single-threaded event loop
// (spec.md §5 "Scheduling model"): one thread multiplexes the backend fd,
// timers, and deferred idle callbacks, dispatching synchronously between
// `poll` calls so no two core operations ever run concurrently.
package loop

import (
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"codeberg.org/river/river/internal/wlog"
)

// MaxOpenFiles is the descriptor limit spec.md §6 requires raised at
// startup ("fd limits are raised at startup to 4096").
const MaxOpenFiles = 4096

// RaiseFDLimit raises RLIMIT_NOFILE to MaxOpenFiles, grounded on the
// teacher's direct golang.org/x/sys/unix use for OS-level setup
// (app/internal/window/os_wayland.go's syscall.Pipe2). The raised limit
// is inherited by children started afterward; RaiseFDLimit keeps no copy
// of the original limit and nothing restores it for them.
func RaiseFDLimit() error {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return err
	}
	want := uint64(MaxOpenFiles)
	if rlim.Max != unix.RLIM_INFINITY && rlim.Max < want {
		want = rlim.Max
	}
	if rlim.Cur >= want {
		return nil
	}
	rlim.Cur = want
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim)
}

// timerEntry is one armed timer. interval is zero for a one-shot timer
// (lock.Timer) and non-zero for a recurring one (keyboard.RepeatTimer).
type timerEntry struct {
	at       time.Time
	interval time.Duration
	fire     func()
	cancelled bool
}

// Handle cancels a timer previously armed with AddTimer/AddRepeating.
type Handle struct {
	entry *timerEntry
}

func (h Handle) Cancel() {
	if h.entry != nil {
		h.entry.cancelled = true
	}
}

// Loop is the compositor's single-threaded reactor: one backend fd, a set
// of timers, and an idle-callback queue whose PostIdle writes to a
// self-pipe to wake a blocked poll (spec.md §5 "Suspension points" —
// GPU-reset-recovery destruction is deferred onto the loop this way).
type Loop struct {
	backendFD int
	idleR, idleW int

	timers []*timerEntry
	idle   []func()

	stopped bool

	log *wlog.Logger
}

// New constructs a Loop multiplexing backendFD (the Wayland backend's own
// event fd) alongside an internal self-pipe for idle wakeups.
func New(backendFD int) (*Loop, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Loop{
		backendFD: backendFD,
		idleR:     fds[0],
		idleW:     fds[1],
		log:       wlog.Scoped(wlog.ScopeServer),
	}, nil
}

// AddTimer arms a one-shot timer firing after d; it implements
// lock.Timer's Start/Cancel pair via the returned Handle.
func (l *Loop) AddTimer(d time.Duration, fire func()) Handle {
	e := &timerEntry{at: time.Now().Add(d), fire: fire}
	l.timers = append(l.timers, e)
	return Handle{entry: e}
}

// AddRepeating arms a timer firing once after delay, then every interval
// until cancelled; it backs keyboard.RepeatTimer's StartRepeat/Stop pair.
func (l *Loop) AddRepeating(delay, interval time.Duration, fire func()) Handle {
	e := &timerEntry{at: time.Now().Add(delay), interval: interval, fire: fire}
	l.timers = append(l.timers, e)
	return Handle{entry: e}
}

// PostIdle queues fn to run on the loop's own thread at the next
// iteration and writes a single byte to the self-pipe to wake a blocked
// poll. The idle queue is not synchronized: call it from the loop's own
// goroutine.
func (l *Loop) PostIdle(fn func()) {
	l.idle = append(l.idle, fn)
	unix.Write(l.idleW, []byte{0})
}

// Stop breaks out of Run after the current iteration.
func (l *Loop) Stop() { l.stopped = true }

// Run polls backendFD and the idle self-pipe, dispatching backend events
// via dispatchBackend and due timers/idle callbacks synchronously between
// poll calls (spec.md §5: "Suspension points... outside of these, no two
// core operations interleave").
func (l *Loop) Run(dispatchBackend func() error) error {
	buf := make([]byte, 64)
	for !l.stopped {
		timeout := l.nextTimeout()
		fds := []unix.PollFd{
			{Fd: int32(l.backendFD), Events: unix.POLLIN},
			{Fd: int32(l.idleR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(fds, timeout)
		if err != nil && err != unix.EINTR {
			return err
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			if err := dispatchBackend(); err != nil {
				return err
			}
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			for {
				_, err := unix.Read(l.idleR, buf)
				if err == unix.EAGAIN {
					break
				}
				if err != nil {
					break
				}
			}
		}
		l.runDueTimers()
		l.runIdle()
	}
	return nil
}

// nextTimeout computes the poll timeout in milliseconds: -1 (block
// indefinitely) if no timer is armed, else the time until the soonest
// one, clamped to zero.
func (l *Loop) nextTimeout() int {
	l.compact()
	if len(l.timers) == 0 {
		return -1
	}
	sort.Slice(l.timers, func(i, j int) bool { return l.timers[i].at.Before(l.timers[j].at) })
	d := time.Until(l.timers[0].at)
	if d < 0 {
		return 0
	}
	return int(d / time.Millisecond)
}

func (l *Loop) runDueTimers() {
	now := time.Now()
	for _, e := range l.timers {
		if e.cancelled || e.at.After(now) {
			continue
		}
		if e.interval > 0 {
			e.at = now.Add(e.interval)
		} else {
			e.cancelled = true
		}
		e.fire()
	}
	l.compact()
}

func (l *Loop) compact() {
	live := l.timers[:0]
	for _, e := range l.timers {
		if !e.cancelled {
			live = append(live, e)
		}
	}
	l.timers = live
}

func (l *Loop) runIdle() {
	pending := l.idle
	l.idle = nil
	for _, fn := range pending {
		fn()
	}
}

// RepeatTimer adapts a Loop timer slot to keyboard.RepeatTimer.
type RepeatTimer struct {
	loop   *Loop
	handle Handle
}

// NewRepeatTimer constructs a RepeatTimer bound to loop; one instance per
// keyboard.Group.
func NewRepeatTimer(loop *Loop) *RepeatTimer { return &RepeatTimer{loop: loop} }

func (t *RepeatTimer) StartRepeat(delay time.Duration, rate int32, fire func()) {
	t.handle.Cancel()
	interval := time.Second
	if rate > 0 {
		interval = time.Second / time.Duration(rate)
	}
	t.handle = t.loop.AddRepeating(delay, interval, fire)
}

func (t *RepeatTimer) Stop() { t.handle.Cancel() }

// Timer adapts a Loop timer slot to lock.Timer.
type Timer struct {
	loop   *Loop
	handle Handle
}

// NewTimer constructs a Timer bound to loop; one instance backs the lock
// manager's single waiting_for_lock_surfaces timeout.
func NewTimer(loop *Loop) *Timer { return &Timer{loop: loop} }

func (t *Timer) Start(d time.Duration, fire func()) { t.handle = t.loop.AddTimer(d, fire) }
func (t *Timer) Cancel()                            { t.handle.Cancel() }
