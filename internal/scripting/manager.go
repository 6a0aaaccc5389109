package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game/dice"
)

// GlobalScope is the reserved scope for shared scripts. CallHook falls back
// to it when a location has no VM of its own.
const GlobalScope = "global"

type vm struct {
	mu sync.Mutex
	L  *lua.LState
}

// Manager owns one sandboxed LState per location and exposes hook dispatch.
//
// Manager is safe for concurrent CallHook. Each LState is single-threaded, so
// calls into the same location are serialized while different locations run
// concurrently.
type Manager struct {
	mu        sync.RWMutex
	vms       map[string]*vm
	src       dice.Source
	logger    *zap.Logger
	instLimit int
}

// NewManager creates a Manager.
//
// Precondition: src and logger must be non-nil; instLimit >= 0 (0 uses
// DefaultInstructionLimit).
// Postcondition: Returns a non-nil Manager with no VMs.
func NewManager(src dice.Source, logger *zap.Logger, instLimit int) *Manager {
	if src == nil {
		panic("scripting.NewManager: src must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		vms:       make(map[string]*vm),
		src:       src,
		logger:    logger,
		instLimit: instLimit,
	}
}

// LoadScope creates a sandboxed VM for scope, registers the engine.* modules,
// then executes every *.lua file in dir in lexicographic order. A scope is a
// location id or GlobalScope.
//
// Precondition: scope must be non-empty; dir must be a readable directory.
// Postcondition: the scope's VM is replaced; returns error on Lua load failure.
func (m *Manager) LoadScope(scope, dir string) error {
	L := NewSandboxedState(m.instLimit)
	m.RegisterModules(L, scope)

	entries, err := os.ReadDir(dir)
	if err != nil {
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", dir, scope, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		cancel := Budget(L, m.instLimit)
		err := L.DoFile(path)
		cancel()
		if err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, scope, err)
		}
	}

	m.mu.Lock()
	old := m.vms[scope]
	m.vms[scope] = &vm{L: L}
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	return nil
}

// LoadTree loads root/<scope>/*.lua for every subdirectory of root. A missing
// root is not an error: the engine simply runs without scripts.
//
// Postcondition: returns the scopes loaded, sorted.
func (m *Manager) LoadTree(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info("scripting: no script directory", zap.String("dir", root))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scripting: reading %q: %w", root, err)
	}
	var scopes []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := m.LoadScope(e.Name(), filepath.Join(root, e.Name())); err != nil {
			return nil, err
		}
		scopes = append(scopes, e.Name())
	}
	sort.Strings(scopes)
	return scopes, nil
}

// CallHook calls the named Lua global function in scope's VM. If the scope
// has no VM, the global VM is tried as a fallback. Returns (LNil, nil) if the
// hook is not defined or no VM exists. Lua runtime errors, including an
// exhausted instruction allowance, are logged at Warn level and never
// propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(scope, hook string, args ...lua.LValue) (lua.LValue, error) {
	return m.call(scope, hook, func(*lua.LState) []lua.LValue { return args })
}

// call is CallHook with arguments built on the target VM under its lock.
func (m *Manager) call(scope, hook string, build func(L *lua.LState) []lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	v, ok := m.vms[scope]
	if !ok {
		v = m.vms[GlobalScope]
	}
	m.mu.RUnlock()

	if v == nil {
		m.logger.Debug("scripting: no VM for scope",
			zap.String("scope", scope),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	L := v.L
	if L.IsClosed() {
		return lua.LNil, nil
	}
	fn := L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	cancel := Budget(L, m.instLimit)
	defer cancel()
	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, build(L)...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("scope", scope),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// Scopes returns the loaded scopes, sorted.
func (m *Manager) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vms))
	for s := range m.vms {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Close releases every VM.
//
// Postcondition: CallHook returns LNil for every scope.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*vm)
	m.mu.Unlock()
	for _, v := range vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
	}
}
