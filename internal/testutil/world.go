package testutil

import (
	"testing"
	"time"

	"github.com/cory-johannsen/raidbot/internal/game/item"
	"github.com/cory-johannsen/raidbot/internal/game/location"
	"github.com/cory-johannsen/raidbot/internal/game/loot"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
)

// Content is a small, fully cross-referenced content set for engine tests.
//
// Locations: "suburbs" (level 1, two players per instance, instances sub1 and
// sub2) and "farm" (level 5, instance farm1). Suburbs channels: backyard
// (walkers), red-house (raiders), road (nothing), shed (evac, 30s, needs
// shed_key), bus-stop (evac, 60s, free).
type Content struct {
	Items     *item.Registry
	NPCs      *npc.Registry
	Locations *location.Registry
}

// NewContent builds the test content or fails the test.
func NewContent(t *testing.T) *Content {
	t.Helper()
	items := item.NewRegistry()
	for _, tmpl := range []*item.Template{
		{Name: "glock-17", Kind: item.RangedWeapon{Accuracy: 70, Durability: 40, FireRate: 3 * time.Second}},
		{Name: "9mm_fmj", Kind: item.Ammunition{Damage: 30, Penetration: 2.5, AmmoFor: []string{"glock-17"}}},
		{Name: "9mm_ap", Kind: item.Ammunition{Damage: 25, Penetration: 3.5, AmmoFor: []string{"glock-17"}}},
		{Name: "wooden_bat", Kind: item.MeleeWeapon{Damage: 20, Penetration: 1, Accuracy: 80, Durability: 3, FireRate: 2 * time.Second}},
		{Name: "frag_grenade", Kind: item.ThrowableWeapon{Damage: 60, Penetration: 2, Accuracy: 100, SpreadLimbs: 4, FireRate: 10 * time.Second}},
		{Name: "paca", Kind: item.BodyArmor{Level: 2, Durability: 30}},
		{Name: "cloth_helmet", Kind: item.Helmet{Level: 1, Durability: 10}},
		{Name: "shed_key", Kind: item.Key{Durability: 3}},
		{Name: "gold_watch", Kind: item.Collectible{}},
		{Name: "bandage", Kind: item.Medical{Heals: 20}},
	} {
		if err := items.Register(tmpl); err != nil {
			t.Fatalf("registering item %q: %v", tmpl.Name, err)
		}
	}

	npcs, err := npc.NewRegistry([]*npc.Template{
		{
			ID: "walker", Display: "Walker", Kind: npc.KindWalker, Health: 60, XP: 20, Damage: 10,
			Drops: loot.Table{
				Common:   loot.Pool{Items: []string{"gold_watch"}},
				Uncommon: loot.Pool{Items: []string{"bandage"}, XP: 5},
				Rare:     loot.Pool{Items: []string{"gold_watch"}, XP: 10},
				Rolls:    2,
			},
		},
		{
			ID: "raider", Display: "Raider", Kind: npc.KindRaider, Health: 80, XP: 50,
			Weapon: "glock-17", Ammo: "9mm_fmj", Armor: "paca", Helmet: "cloth_helmet",
			Quotes: []string{"Get out of my house!"},
			Drops:  loot.Table{Common: loot.Pool{Items: []string{"bandage"}}, Rolls: 1},
		},
	})
	if err != nil {
		t.Fatalf("building npc registry: %v", err)
	}
	for _, tmpl := range npcs.All() {
		if err := tmpl.Validate(); err != nil {
			t.Fatalf("npc fixture: %v", err)
		}
	}

	locations := location.NewRegistry()
	for _, l := range []*location.Location{
		{
			ID: "suburbs", Display: "Suburbs", RaidLength: 1800, PlayerLimit: 2, Level: 1,
			Instances: []string{"sub1", "sub2"},
			Channels: []location.Channel{
				{Name: "backyard", NPCSpawns: &location.Spawns{NPCs: []string{"walker"}, CooldownMin: 60, CooldownMax: 120}},
				{Name: "red-house", NPCSpawns: &location.Spawns{NPCs: []string{"raider"}, CooldownMin: 300, CooldownMax: 300}},
				{Name: "road"},
				{Name: "shed", Evac: &location.Evac{Time: 30, RequiresKey: "shed_key"}},
				{Name: "bus-stop", Evac: &location.Evac{Time: 60}},
			},
		},
		{
			ID: "farm", Display: "Farm", RaidLength: 3600, PlayerLimit: 5, Level: 5,
			Instances: []string{"farm1"},
			Channels: []location.Channel{
				{Name: "barn", NPCSpawns: &location.Spawns{NPCs: []string{"walker"}, CooldownMin: 30, CooldownMax: 60}},
				{Name: "gate", Evac: &location.Evac{Time: 45}},
			},
		},
	} {
		if err := locations.Register(l); err != nil {
			t.Fatalf("registering location %q: %v", l.ID, err)
		}
	}
	return &Content{Items: items, NPCs: npcs, Locations: locations}
}
