// Command river is the compositor entrypoint: flag/env handling, signal
// setup, fd-limit raising, and wiring the input/focus engine together
// (spec.md §6 "External interfaces").
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"codeberg.org/river/river/internal/control"
	"codeberg.org/river/river/internal/lock"
	"codeberg.org/river/river/internal/loop"
	"codeberg.org/river/river/internal/server"
	"codeberg.org/river/river/internal/wlog"
)

// version is set at build time via -ldflags, matching the teacher's
// cmd package convention of a package-level Version var.
var version = "0.1.0-dev"

var (
	flagCommand    string
	flagLogLevel   string
	flagLogScopes  string
	flagNoXwayland bool
)

func main() {
	root := &cobra.Command{
		Use:           "river",
		Short:         "A dynamic tiling Wayland compositor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagCommand, "command", "c", "", "submit a command through the control protocol at startup")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "error|warning|info|debug")
	root.Flags().StringVar(&flagLogScopes, "log-scopes", "", "comma list, \"all\" and \"~<scope>\" syntax")
	root.Flags().BoolVar(&flagNoXwayland, "no-xwayland", false, "disable Xwayland")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "river:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := wlog.ParseLevel(flagLogLevel)
	if err != nil {
		return usageError(err)
	}
	scopes, err := wlog.ParseScopes(flagLogScopes)
	if err != nil {
		return usageError(err)
	}
	wlog.Configure(level, scopes)
	log := wlog.Scoped(wlog.ScopeServer)

	if err := loop.RaiseFDLimit(); err != nil {
		log.Warn("failed to raise RLIMIT_NOFILE", "error", err)
	}

	// SIGPIPE is ignored process-wide (spec.md §6); TODO: children spawned
	// via cmdSpawn/the init script inherit SIG_IGN across exec because
	// os/exec has no pre-exec hook to reset a signal's disposition — only
	// a raw syscall.ForkExec with a custom Sys.Signal would restore it, and
	// nothing in this pack demonstrates that pattern to ground it on.
	signal.Ignore(unix.SIGPIPE)

	display := chooseWaylandDisplay()
	if err := os.Setenv("WAYLAND_DISPLAY", display); err != nil {
		log.Error("failed to set WAYLAND_DISPLAY", "error", err)
		return exitCode1
	}
	log.Info("listening", "wayland_display", display)

	if !flagNoXwayland {
		if err := os.Setenv("DISPLAY", ":0"); err != nil {
			log.Error("failed to set DISPLAY", "error", err)
			return exitCode1
		}
	}

	initPath, err := resolveInitPath()
	if err != nil {
		log.Error("resolving init file", "error", err)
		return exitCode1
	}
	if initPath != "" {
		if err := runInit(initPath); err != nil {
			log.Error("running init file", "path", initPath, "error", err)
			return exitCode1
		}
	}

	evLoop, err := loop.New(-1)
	if err != nil {
		log.Error("constructing event loop", "error", err)
		return exitCode1
	}

	srv := server.New(noopWM{}, noopLockProtocol{}, server.TreeHooks{}, loop.NewTimer(evLoop))

	if flagCommand != "" {
		argv, err := control.SplitCommandLine(flagCommand)
		if err != nil {
			return usageError(err)
		}
		reply := srv.Control().Dispatch(argv)
		if !reply.OK {
			log.Error("startup command failed", "command", flagCommand, "reason", reply.Failure)
		}
	}

	waitForShutdownSignal(log)
	broadcastTerminateToProcessGroup(log)
	return nil
}

// exitCode1 is returned by run when spec.md §6's exit code 1
// cases apply (usage error, fatal setup failure); cobra's RunE contract
// only distinguishes "error" from "no error", so main maps any non-nil
// error to os.Exit(1) and a nil error to os.Exit(0).
var exitCode1 = fmt.Errorf("river: fatal startup error")

func usageError(err error) error {
	return fmt.Errorf("usage: %w", err)
}

// chooseWaylandDisplay picks the first unused wayland-N socket name under
// XDG_RUNTIME_DIR, matching a compositor's usual auto-selection.
func chooseWaylandDisplay() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	for n := 0; n < 32; n++ {
		name := fmt.Sprintf("wayland-%d", n)
		if dir == "" {
			return name
		}
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			return name
		}
	}
	return "wayland-0"
}

// resolveInitPath looks up $XDG_CONFIG_HOME/river/init, or
// $HOME/.config/river/init when XDG_CONFIG_HOME is unset. It returns ""
// if that one file doesn't exist (not an error: the init file is
// optional), and an error if neither variable is set or the file is not
// executable.
func resolveInitPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", fmt.Errorf("neither XDG_CONFIG_HOME nor HOME is set")
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, "river", "init")
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("%s exists but is not executable", path)
	}
	return path, nil
}

// runInit spawns the init file detached, the same way cmdSpawn spawns a
// control-protocol "spawn" command's target.
func runInit(path string) error {
	c := exec.Command(path)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Start()
}

func waitForShutdownSignal(log *wlog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, unix.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal, terminating gracefully", "signal", sig)
}

// broadcastTerminateToProcessGroup implements spec.md §6 "On exit,
// SIGTERM is broadcast to the init process group": pid 0 to
// unix.Kill means "every process in the caller's own process group".
func broadcastTerminateToProcessGroup(log *wlog.Logger) {
	if err := unix.Kill(0, unix.SIGTERM); err != nil {
		log.Warn("failed to broadcast SIGTERM to the process group", "error", err)
	}
}

// noopWM/noopLockProtocol stand in for the window-management client and
// the lock-protocol sender, both externally-provided collaborators
// spec.md §1 scopes out of the core (see internal/wire's doc comment);
// cmd/river wires the real ones in once a Wayland protocol and
// window-management library are available.
type noopWM struct{}

func (noopWM) MarkDirty()            {}
func (noopWM) OpUpdate(dx, dy int32) {}
func (noopWM) OpRelease()            {}

type noopLockProtocol struct{}

func (noopLockProtocol) SendLocked(c *lock.Client) {}
