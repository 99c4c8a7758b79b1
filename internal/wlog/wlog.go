// Package wlog provides the core's leveled, scope-filtered logging. It
// wraps github.com/charmbracelet/log the way the rest of the pack does:
// one logger per concern, configured once at startup from the CLI's
// -log-level and -log-scopes flags.
package wlog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Scope is one of the closed set of logging scopes spec.md §6 lets
// -log-scopes filter on.
type Scope string

const (
	ScopeServer     Scope = "server"
	ScopeSeat       Scope = "seat"
	ScopeCursor     Scope = "cursor"
	ScopeKeyboard   Scope = "keyboard"
	ScopeRelay      Scope = "im-relay"
	ScopeLock       Scope = "lock"
	ScopeXKB        Scope = "xkb"
	ScopeRender     Scope = "render"
	ScopeControl    Scope = "control"
	ScopeVirtualIn  Scope = "virtual-input"
	ScopeConstraint Scope = "constraint"
)

// AllScopes is the closed enumeration -log-scopes validates against.
var AllScopes = []Scope{
	ScopeServer, ScopeSeat, ScopeCursor, ScopeKeyboard, ScopeRelay,
	ScopeLock, ScopeXKB, ScopeRender, ScopeControl, ScopeVirtualIn, ScopeConstraint,
}

var (
	mu      sync.Mutex
	base    = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	allowed map[Scope]bool // nil means "all scopes enabled"
)

// Configure applies -log-level and a parsed -log-scopes set. Call once at
// startup before any Scoped logger is used.
func Configure(level log.Level, scopes map[Scope]bool) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(level)
	allowed = scopes
}

// ParseScopes parses the -log-scopes comma list syntax from spec.md §6:
// a comma-separated list, "all" enables every scope, and a leading "~"
// negates a scope that a preceding "all" enabled. An empty string means
// "use the logger's default" (all scopes enabled).
func ParseScopes(spec string) (map[Scope]bool, error) {
	if spec == "" {
		return nil, nil
	}
	set := make(map[Scope]bool)
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if tok == "all" {
			for _, s := range AllScopes {
				set[s] = true
			}
			continue
		}
		negate := strings.HasPrefix(tok, "~")
		name := strings.TrimPrefix(tok, "~")
		scope, ok := lookupScope(name)
		if !ok {
			return nil, fmt.Errorf("unknown log scope %q", name)
		}
		set[scope] = !negate
	}
	return set, nil
}

func lookupScope(name string) (Scope, bool) {
	for _, s := range AllScopes {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Logger is a scope-bound logger. When its scope is filtered out by
// -log-scopes, every method is a no-op — the caller never has to branch on
// whether a scope is active.
type Logger struct {
	scope Scope
}

// Scoped returns the logger for scope. Safe to call before Configure;
// the returned Logger reads global state lazily on every call.
func Scoped(scope Scope) *Logger {
	return &Logger{scope: scope}
}

func (l *Logger) enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return allowed == nil || allowed[l.scope]
}

func (l *Logger) with() *log.Logger {
	return base.With("scope", string(l.scope))
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	if l.enabled() {
		l.with().Debug(msg, kv...)
	}
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	if l.enabled() {
		l.with().Info(msg, kv...)
	}
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	if l.enabled() {
		l.with().Warn(msg, kv...)
	}
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	if l.enabled() {
		l.with().Error(msg, kv...)
	}
}

// ParseLevel maps the -log-level enumeration onto charmbracelet/log's Level.
func ParseLevel(s string) (log.Level, error) {
	switch s {
	case "error":
		return log.ErrorLevel, nil
	case "warning":
		return log.WarnLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
