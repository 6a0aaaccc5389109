package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game/dice"
)

// RegisterModules registers the engine.* Lua tables into L:
//
//	engine.log.debug|info|warn|error(msg)  writes to the manager's logger
//	engine.roll(n)                         returns a uniform integer in [1, n]
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState, scope string) {
	engine := L.NewTable()

	logger := m.logger.With(zap.String("scope", scope))
	logTbl := L.NewTable()
	for name, fn := range map[string]func(string, ...zap.Field){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		fn := fn
		L.SetField(logTbl, name, L.NewFunction(func(L *lua.LState) int {
			fn(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	L.SetField(engine, "log", logTbl)

	L.SetField(engine, "roll", L.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt(1)
		if n < 1 {
			L.ArgError(1, "n must be >= 1")
			return 0
		}
		L.Push(lua.LNumber(dice.Between(m.src, 1, n)))
		return 1
	}))

	L.SetGlobal("engine", engine)
}
