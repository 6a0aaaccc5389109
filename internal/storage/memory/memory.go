// Package memory implements storage.Store in process memory. Transactions are
// serialized: one transaction is open at a time, works on a private copy of
// the committed state, and publishes it on Commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

var errClosed = errors.New("memory: transaction already closed")

type cooldownKey struct {
	player string
	kind   string
}

type itemRow struct {
	item model.ItemInstance
	seq  int64
}

type state struct {
	players   map[string]model.Player
	items     map[uuid.UUID]itemRow
	npcs      map[string]model.NPC
	sessions  map[string]model.RaidSession
	cooldowns map[cooldownKey]model.Cooldown
	quests    map[uuid.UUID]model.Quest
	seq       int64
}

func newState() *state {
	return &state{
		players:   make(map[string]model.Player),
		items:     make(map[uuid.UUID]itemRow),
		npcs:      make(map[string]model.NPC),
		sessions:  make(map[string]model.RaidSession),
		cooldowns: make(map[cooldownKey]model.Cooldown),
		quests:    make(map[uuid.UUID]model.Quest),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.players {
		c.players[k] = v
	}
	for k, v := range s.items {
		v.item = copyItem(v.item)
		c.items[k] = v
	}
	for k, v := range s.npcs {
		c.npcs[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.cooldowns {
		c.cooldowns[k] = v
	}
	for k, v := range s.quests {
		c.quests[k] = v
	}
	return c
}

func copyItem(it model.ItemInstance) model.ItemInstance {
	if it.Durability != nil {
		it.Durability = model.IntPtr(*it.Durability)
	}
	return it
}

// filterItems returns copies of the items matching keep in insertion order.
func (s *state) filterItems(keep func(model.ItemInstance) bool) []model.ItemInstance {
	rows := make([]itemRow, 0)
	for _, r := range s.items {
		if keep(r.item) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]model.ItemInstance, len(rows))
	for i, r := range rows {
		out[i] = copyItem(r.item)
	}
	return out
}

func backpackOf(playerID string) func(model.ItemInstance) bool {
	return func(it model.ItemInstance) bool {
		return it.Place == model.PlaceBackpack && it.OwnerID == playerID
	}
}

func groundOf(channelID string) func(model.ItemInstance) bool {
	return func(it model.ItemInstance) bool {
		return it.Place == model.PlaceGround && it.ChannelID == channelID
	}
}

// Store is an in-memory storage.Store.
type Store struct {
	sem chan struct{}

	mu        sync.RWMutex
	committed *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
	}
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// Begin waits until no other transaction is open.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tx{store: s, st: s.read().clone()}, nil
}

// CreatePlayer inserts p.
func (s *Store) CreatePlayer(ctx context.Context, p model.Player) error {
	return storage.WithTx(ctx, s, func(t storage.Tx) error {
		st := t.(*tx).st
		if _, ok := st.players[p.ID]; ok {
			return fmt.Errorf("memory: player %q: %w", p.ID, storage.ErrConflict)
		}
		st.players[p.ID] = p
		return nil
	})
}

// SweepCooldowns deletes cooldowns expired before now.
func (s *Store) SweepCooldowns(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := storage.WithTx(ctx, s, func(t storage.Tx) error {
		st := t.(*tx).st
		for k, c := range st.cooldowns {
			if !c.ExpiresAt.After(now) {
				delete(st.cooldowns, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// SweepGround deletes ground items dropped before cutoff.
func (s *Store) SweepGround(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := storage.WithTx(ctx, s, func(t storage.Tx) error {
		st := t.(*tx).st
		for id, r := range st.items {
			if r.item.Place == model.PlaceGround && r.item.DroppedAt.Before(cutoff) {
				delete(st.items, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) Player(_ context.Context, id string) (*model.Player, error) {
	p, ok := s.read().players[id]
	if !ok {
		return nil, fmt.Errorf("memory: player %q: %w", id, storage.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) Session(_ context.Context, playerID string) (*model.RaidSession, error) {
	rs, ok := s.read().sessions[playerID]
	if !ok {
		return nil, fmt.Errorf("memory: session of %q: %w", playerID, storage.ErrNotFound)
	}
	return &rs, nil
}

func (s *Store) Sessions(_ context.Context) ([]model.RaidSession, error) {
	st := s.read()
	out := make([]model.RaidSession, 0, len(st.sessions))
	for _, rs := range st.sessions {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (s *Store) Backpack(_ context.Context, playerID string) ([]model.ItemInstance, error) {
	return s.read().filterItems(backpackOf(playerID)), nil
}

func (s *Store) NPC(_ context.Context, channelID string) (*model.NPC, error) {
	n, ok := s.read().npcs[channelID]
	if !ok {
		return nil, fmt.Errorf("memory: npc in %q: %w", channelID, storage.ErrNotFound)
	}
	return &n, nil
}

func (s *Store) Ground(_ context.Context, channelID string) ([]model.ItemInstance, error) {
	return s.read().filterItems(groundOf(channelID)), nil
}

type tx struct {
	storage.Hooks
	store *Store
	st    *state
	done  bool
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return errClosed
	}
	t.done = true
	t.store.mu.Lock()
	t.store.committed = t.st
	t.store.mu.Unlock()
	<-t.store.sem
	t.Fire()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.sem
	t.Discard()
	return nil
}

func (t *tx) LockPlayer(_ context.Context, id string) (*model.Player, error) {
	p, ok := t.st.players[id]
	if !ok {
		return nil, fmt.Errorf("memory: player %q: %w", id, storage.ErrNotFound)
	}
	return &p, nil
}

func (t *tx) LockPlayers(ctx context.Context, ids ...string) (map[string]*model.Player, error) {
	out := make(map[string]*model.Player, len(ids))
	for _, id := range ids {
		p, err := t.LockPlayer(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (t *tx) LockSession(_ context.Context, playerID string) (*model.RaidSession, error) {
	rs, ok := t.st.sessions[playerID]
	if !ok {
		return nil, fmt.Errorf("memory: session of %q: %w", playerID, storage.ErrNotFound)
	}
	return &rs, nil
}

func (t *tx) LockCooldown(_ context.Context, playerID, kind string) (*model.Cooldown, error) {
	c, ok := t.st.cooldowns[cooldownKey{playerID, kind}]
	if !ok {
		return nil, fmt.Errorf("memory: cooldown %s/%s: %w", playerID, kind, storage.ErrNotFound)
	}
	return &c, nil
}

func (t *tx) LockBackpack(_ context.Context, playerID string) ([]model.ItemInstance, error) {
	return t.st.filterItems(backpackOf(playerID)), nil
}

func (t *tx) LockQuests(_ context.Context, playerID string) ([]model.Quest, error) {
	var out []model.Quest
	for _, q := range t.st.quests {
		if q.PlayerID == playerID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (t *tx) LockNPC(_ context.Context, channelID string) (*model.NPC, error) {
	n, ok := t.st.npcs[channelID]
	if !ok {
		return nil, fmt.Errorf("memory: npc in %q: %w", channelID, storage.ErrNotFound)
	}
	return &n, nil
}

func (t *tx) LockInstance(context.Context, string) error {
	return nil
}

func (t *tx) UpdatePlayer(_ context.Context, p *model.Player) error {
	if _, ok := t.st.players[p.ID]; !ok {
		return fmt.Errorf("memory: player %q: %w", p.ID, storage.ErrNotFound)
	}
	t.st.players[p.ID] = *p
	return nil
}

func (t *tx) SetCooldown(_ context.Context, c model.Cooldown) error {
	t.st.cooldowns[cooldownKey{c.PlayerID, c.Kind}] = c
	return nil
}

func (t *tx) UpdateQuest(_ context.Context, q model.Quest) error {
	if _, ok := t.st.quests[q.ID]; !ok {
		return fmt.Errorf("memory: quest %s: %w", q.ID, storage.ErrNotFound)
	}
	t.st.quests[q.ID] = q
	return nil
}

// InsertQuest adds q. Quest assignment lives outside the engine, so this is
// only reachable through the concrete store.
func (s *Store) InsertQuest(ctx context.Context, q model.Quest) error {
	return storage.WithTx(ctx, s, func(t storage.Tx) error {
		t.(*tx).st.quests[q.ID] = q
		return nil
	})
}

func checkDurability(it model.ItemInstance) error {
	if it.Durability != nil && *it.Durability < 1 {
		return fmt.Errorf("memory: item %s: durability %d must be >= 1", it.ID, *it.Durability)
	}
	return nil
}

func (t *tx) InsertItem(_ context.Context, it model.ItemInstance) error {
	if err := checkDurability(it); err != nil {
		return err
	}
	if _, ok := t.st.items[it.ID]; ok {
		return fmt.Errorf("memory: item %s: %w", it.ID, storage.ErrConflict)
	}
	t.st.seq++
	t.st.items[it.ID] = itemRow{item: copyItem(it), seq: t.st.seq}
	return nil
}

func (t *tx) UpdateItem(_ context.Context, it model.ItemInstance) error {
	if err := checkDurability(it); err != nil {
		return err
	}
	row, ok := t.st.items[it.ID]
	if !ok {
		return fmt.Errorf("memory: item %s: %w", it.ID, storage.ErrNotFound)
	}
	row.item = copyItem(it)
	t.st.items[it.ID] = row
	return nil
}

func (t *tx) DeleteItem(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.items[id]; !ok {
		return fmt.Errorf("memory: item %s: %w", id, storage.ErrNotFound)
	}
	delete(t.st.items, id)
	return nil
}

func (t *tx) DeleteBackpack(_ context.Context, playerID string) (int64, error) {
	var n int64
	keep := backpackOf(playerID)
	for id, r := range t.st.items {
		if keep(r.item) {
			delete(t.st.items, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertNPC(_ context.Context, n model.NPC) (bool, error) {
	if _, ok := t.st.npcs[n.ChannelID]; ok {
		return false, nil
	}
	t.st.npcs[n.ChannelID] = n
	return true, nil
}

func (t *tx) UpdateNPC(_ context.Context, n model.NPC) error {
	if _, ok := t.st.npcs[n.ChannelID]; !ok {
		return fmt.Errorf("memory: npc in %q: %w", n.ChannelID, storage.ErrNotFound)
	}
	t.st.npcs[n.ChannelID] = n
	return nil
}

func (t *tx) DeleteNPC(_ context.Context, channelID string) error {
	delete(t.st.npcs, channelID)
	return nil
}

func (t *tx) InsertSession(_ context.Context, rs model.RaidSession) error {
	if _, ok := t.st.sessions[rs.PlayerID]; ok {
		return fmt.Errorf("memory: session of %q: %w", rs.PlayerID, storage.ErrConflict)
	}
	t.st.sessions[rs.PlayerID] = rs
	return nil
}

func (t *tx) DeleteSession(_ context.Context, playerID string) error {
	delete(t.st.sessions, playerID)
	return nil
}

func (t *tx) CountMembers(_ context.Context, instanceID string) (int, error) {
	n := 0
	for _, rs := range t.st.sessions {
		if rs.InstanceID == instanceID {
			n++
		}
	}
	return n, nil
}
