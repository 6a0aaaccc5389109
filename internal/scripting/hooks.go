package scripting

import (
	lua "github.com/yuin/gopher-lua"
)

// Hook names called by the combat engine.
const (
	HookNPCKill    = "on_npc_kill"
	HookPlayerKill = "on_player_kill"
)

// Kill describes a kill to a scripted hook. It is passed to Lua as a table
// with the same field names in snake case.
type Kill struct {
	LocationID string
	ChannelID  string
	KillerID   string
	// VictimID is the NPC template id or the victim player id.
	VictimID string
	Boss     bool
	// Items is the number of items dropped by the victim.
	Items int
	// XP is the base award before the bonus.
	XP int
}

func (k Kill) table(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "location", lua.LString(k.LocationID))
	L.SetField(t, "channel", lua.LString(k.ChannelID))
	L.SetField(t, "killer", lua.LString(k.KillerID))
	L.SetField(t, "victim", lua.LString(k.VictimID))
	L.SetField(t, "boss", lua.LBool(k.Boss))
	L.SetField(t, "items", lua.LNumber(k.Items))
	L.SetField(t, "xp", lua.LNumber(k.XP))
	return t
}

// KillBonus calls hook in the kill's location scope and returns the extra xp
// the script awards. Missing hooks, non-numeric results and script errors all
// yield 0.
//
// Postcondition: result >= 0.
func (m *Manager) KillBonus(hook string, k Kill) int {
	ret, err := m.call(k.LocationID, hook, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{k.table(L)}
	})
	if err != nil {
		return 0
	}
	n, ok := ret.(lua.LNumber)
	if !ok || n <= 0 {
		return 0
	}
	return int(n)
}
