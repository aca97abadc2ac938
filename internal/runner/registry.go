package runner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/yanun0323/logs"
)

var (
	ErrModuleNotFound = errors.New("runner: module not found")
	ErrNoTarget       = errors.New("runner: no server, module, tools or strategy given")
	ErrInvalidMode    = errors.New("runner: mode must be test or master")
)

// Kind groups entry points the way the CLI flags do.
type Kind string

const (
	KindServer   Kind = "server"
	KindModule   Kind = "module"
	KindTools    Kind = "tools"
	KindStrategy Kind = "strategy"
)

// Entry is a named entry point. param is the -param flag, possibly empty.
type Entry func(ctx context.Context, app *App, param string) error

// Registry maps (kind, name) to entry points.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Kind]map[string]Entry)}
}

// Default is the registry entry packages register into from init.
var Default = NewRegistry()

// Register adds entry under kind and name to Default.
func Register(kind Kind, name string, entry Entry) {
	Default.Register(kind, name, entry)
}

// Register adds entry under kind and name. It panics on a nil entry or a
// duplicate name, like database/sql.Register.
func (r *Registry) Register(kind Kind, name string, entry Entry) {
	if entry == nil {
		panic("runner: Register entry is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[kind]
	if !ok {
		byName = make(map[string]Entry)
		r.entries[kind] = byName
	}
	if _, dup := byName[name]; dup {
		panic(fmt.Sprintf("runner: Register called twice for %s %s", kind, name))
	}
	byName[name] = entry
}

// Lookup returns the entry registered under kind and name.
func (r *Registry) Lookup(kind Kind, name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[kind][name]
	if !ok {
		return nil, fmt.Errorf("%w: strategy module %s.%s does not exist", ErrModuleNotFound, kind, name)
	}
	return entry, nil
}

// Names lists the names registered under kind in sorted order.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries[kind]))
}

// Run looks up target and runs it with app.
func (r *Registry) Run(ctx context.Context, app *App, target Target) error {
	entry, err := r.Lookup(target.Kind, target.Name)
	if err != nil {
		return err
	}

	logs.Infof("%s %s.%s", target.verb(), target.Kind, target.Name)
	return entry(ctx, app, target.Param)
}

// Target is the entry point selected on the command line.
type Target struct {
	Kind  Kind
	Name  string
	Param string
}

// Select picks the target from the CLI flags. server wins over module,
// module over tools, tools over strategy.
func Select(server, module, tools, strategy, param string) (Target, error) {
	switch {
	case server != "":
		return Target{Kind: KindServer, Name: server, Param: param}, nil
	case module != "":
		return Target{Kind: KindModule, Name: module, Param: param}, nil
	case tools != "":
		return Target{Kind: KindTools, Name: tools, Param: param}, nil
	case strategy != "":
		return Target{Kind: KindStrategy, Name: strategy, Param: param}, nil
	default:
		return Target{}, ErrNoTarget
	}
}

// LogDirName names the log directory of the target's process.
func (t Target) LogDirName() string {
	switch t.Kind {
	case KindServer, KindTools:
		return t.Name
	default:
		return t.Name + "_" + t.Param
	}
}

func (t Target) verb() string {
	switch t.Kind {
	case KindServer:
		return "start api service"
	case KindModule:
		return "start tuning service"
	case KindTools:
		return "run tool"
	default:
		return "run strategy"
	}
}

// Mode selects the environment a process runs against.
type Mode string

const (
	ModeTest   Mode = "test"
	ModeMaster Mode = "master"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTest, ModeMaster:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w, got %q", ErrInvalidMode, s)
	}
}
