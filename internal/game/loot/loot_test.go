package loot_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/raidbot/internal/game/dice"
	"github.com/cory-johannsen/raidbot/internal/game/loot"
)

func fullTable() *loot.Table {
	return &loot.Table{
		Common:   loot.Pool{Items: []string{"wooden_bat"}, XP: 5},
		Uncommon: loot.Pool{Items: []string{"bandage", "pistol_ammo"}, XP: 10},
		Rare:     loot.Pool{Items: []string{"metal_bat"}, XP: 20},
		Rarest:   &loot.Pool{Items: []string{"gold_watch"}, XP: 50},
		Rolls:    2,
	}
}

func TestBands_DefaultWithRarest(t *testing.T) {
	bands := fullTable().Bands()
	require.Len(t, bands, 4)
	assert.Equal(t, loot.TierRarest, bands[0].Tier)
	assert.InDelta(t, 0.05, bands[0].Upper, 1e-9)
	assert.InDelta(t, 0.20, bands[1].Upper, 1e-9)
	assert.InDelta(t, 0.45, bands[2].Upper, 1e-9)
	assert.Equal(t, loot.TierCommon, bands[3].Tier)
	assert.InDelta(t, 0.55, bands[3].Upper-bands[3].Lower, 1e-9)
}

func TestBands_WithoutRarestCommonTakesSixtyPercent(t *testing.T) {
	tbl := fullTable()
	tbl.Rarest = nil
	bands := tbl.Bands()
	require.Len(t, bands, 3)
	assert.InDelta(t, 0.60, bands[2].Upper-bands[2].Lower, 1e-9)
}

func TestRoll_EmptyTierYieldsNothing(t *testing.T) {
	tbl := fullTable()
	tbl.Rare = loot.Pool{XP: 20}
	// 0.10 falls in the rare band [0.05, 0.20).
	_, ok := tbl.Roll(dice.NewSequence(100_000))
	assert.False(t, ok)
}

func TestRoll_PicksUniformlyWithinTier(t *testing.T) {
	tbl := fullTable()
	// 0.30 falls in uncommon; second draw picks index 1.
	d, ok := tbl.Roll(dice.NewSequence(300_000, 1))
	require.True(t, ok)
	assert.Equal(t, loot.TierUncommon, d.Tier)
	assert.Equal(t, "pistol_ammo", d.Item)
	assert.Equal(t, 10, d.XP)
}

func TestRollAll_ExactlyRollsDraws(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tbl := fullTable()
		tbl.Rolls = rapid.IntRange(0, 10).Draw(rt, "rolls")
		drops := tbl.RollAll(dice.NewSeededSource(rapid.Uint64().Draw(rt, "seed")))
		if len(drops) != tbl.Rolls {
			rt.Fatalf("every tier is non-empty so every roll must drop: got %d want %d", len(drops), tbl.Rolls)
		}
	})
}

func TestRollAll_AllowsDuplicates(t *testing.T) {
	tbl := fullTable()
	tbl.Rolls = 3
	drops := tbl.RollAll(dice.NewSequence(900_000, 0))
	require.Len(t, drops, 3)
	for _, d := range drops {
		assert.Equal(t, "wooden_bat", d.Item)
	}
}

func TestSelectTier_DistributionConvergesToBands(t *testing.T) {
	tbl := fullTable()
	src := dice.NewSeededSource(7)
	const n = 200_000
	counts := map[loot.Tier]int{}
	for i := 0; i < n; i++ {
		counts[tbl.SelectTier(dice.Unit(src))]++
	}
	for _, b := range tbl.Bands() {
		got := float64(counts[b.Tier]) / n
		want := b.Upper - b.Lower
		assert.Lessf(t, math.Abs(got-want), 0.01, "tier %s frequency %f, band %f", b.Tier, got, want)
	}
}

func TestValidate(t *testing.T) {
	tbl := fullTable()
	require.NoError(t, tbl.Validate())

	tbl.Rolls = -1
	assert.Error(t, tbl.Validate())

	tbl = fullTable()
	tbl.Chances = &loot.Chances{Uncommon: 0.6, Rare: 0.3, Rarest: 0.2}
	assert.Error(t, tbl.Validate())
}

func TestTable_YAML(t *testing.T) {
	var tbl loot.Table
	err := yaml.Unmarshal([]byte(`
rolls: 2
common: {items: [wooden_bat], xp: 5}
uncommon: {items: [bandage], xp: 10}
rare: {items: [glock-17, 9mm_fmj], xp: 20}
chances: {uncommon: 0.3, rare: 0.1}
`), &tbl)
	require.NoError(t, err)
	require.NoError(t, tbl.Validate())
	assert.Nil(t, tbl.Rarest)
	assert.Equal(t, []string{"wooden_bat", "bandage", "glock-17", "9mm_fmj"}, tbl.Items())
	assert.InDelta(t, 0.6, tbl.Bands()[2].Upper-tbl.Bands()[2].Lower, 1e-9)
}
