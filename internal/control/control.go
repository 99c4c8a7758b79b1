// Package control implements the river-control protocol (spec.md §6,
// "A custom control protocol lets privileged clients submit commands as
// an argument vector and receive a success/failure reply; only one
// command per invocation"). It also backs the -c <command> CLI flag,
// which accepts a single shell-like string split into the same argument
// vector with github.com/anmitsu/go-shlex before dispatch.
package control

import (
	"fmt"
	"sync"

	"github.com/anmitsu/go-shlex"

	"codeberg.org/river/river/internal/wlog"
)

// Command is a registered control command: given the arguments following
// its own name, it either succeeds or returns an error describing why.
// Commands never panic as control flow (spec.md §10: "the core never
// uses exceptions as control flow").
type Command func(args []string) error

// Reply is the single success/failure outcome of one Dispatch call,
// mirroring the protocol's zriver_command_callback_v1 events.
type Reply struct {
	OK      bool
	Failure string
}

// Dispatcher owns the registry of known commands and executes exactly
// one per call, matching the protocol's "only one command per
// invocation".
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]Command
	log      *wlog.Logger
}

// New constructs an empty Dispatcher; the server registers its builtin
// "spawn" command on it during startup.
func New() *Dispatcher {
	return &Dispatcher{
		commands: make(map[string]Command),
		log:      wlog.Scoped(wlog.ScopeControl),
	}
}

// Register adds or replaces the command named name.
func (d *Dispatcher) Register(name string, cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = cmd
}

// ErrEmptyArgv is returned when a client submits a zero-length argument
// vector: there is no command name to dispatch on.
var ErrEmptyArgv = fmt.Errorf("control: empty argument vector")

// Dispatch runs argv[0] as a command name against args argv[1:],
// returning the single success/failure Reply the protocol sends back to
// the requesting client.
func (d *Dispatcher) Dispatch(argv []string) Reply {
	if len(argv) == 0 {
		return Reply{OK: false, Failure: ErrEmptyArgv.Error()}
	}

	d.mu.RLock()
	cmd, ok := d.commands[argv[0]]
	d.mu.RUnlock()
	if !ok {
		return Reply{OK: false, Failure: fmt.Sprintf("control: unknown command %q", argv[0])}
	}

	if err := cmd(argv[1:]); err != nil {
		d.log.Warn("control command failed", "command", argv[0], "error", err)
		return Reply{OK: false, Failure: err.Error()}
	}
	return Reply{OK: true}
}

// SplitCommandLine splits a shell-like command line (as given to the -c
// flag) into an argument vector, honoring quoting exactly as a POSIX
// shell would for the purposes needed here.
func SplitCommandLine(line string) ([]string, error) {
	argv, err := shlex.Split(line, true)
	if err != nil {
		return nil, fmt.Errorf("control: splitting command line: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyArgv
	}
	return argv, nil
}
