package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var (
	playerColumns  = []string{"id", "health", "max_health", "level", "xp", "money", "kills", "npc_kills", "boss_kills", "deaths"}
	itemColumns    = []string{"id", "template", "durability", "place", "owner_id", "channel_id", "equipped", "dropped_at"}
	sessionColumns = []string{"id", "player_id", "location_id", "instance_id", "started_at", "expires_at"}
	npcColumns     = []string{"channel_id", "template_id", "health", "spawned_at"}
	questColumns   = []string{"id", "player_id", "quest_type", "progress", "goal"}
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// mapErr translates driver errors into storage sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001", "23505", "55P03":
			return fmt.Errorf("%s: %w: %s", what, storage.ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(r rowScanner) (*model.Player, error) {
	var p model.Player
	err := r.Scan(&p.ID, &p.Health, &p.MaxHealth, &p.Level, &p.XP, &p.Money, &p.Kills, &p.NPCKills, &p.BossKills, &p.Deaths)
	return &p, err
}

func scanItem(r rowScanner) (model.ItemInstance, error) {
	var (
		it        model.ItemInstance
		place     string
		owner     *string
		channel   *string
		droppedAt *time.Time
	)
	if err := r.Scan(&it.ID, &it.Template, &it.Durability, &place, &owner, &channel, &it.Equipped, &droppedAt); err != nil {
		return it, err
	}
	it.Place = model.Place(place)
	if owner != nil {
		it.OwnerID = *owner
	}
	if channel != nil {
		it.ChannelID = *channel
	}
	if droppedAt != nil {
		it.DroppedAt = *droppedAt
	}
	return it, nil
}

func scanSession(r rowScanner) (*model.RaidSession, error) {
	var s model.RaidSession
	err := r.Scan(&s.ID, &s.PlayerID, &s.LocationID, &s.InstanceID, &s.StartedAt, &s.ExpiresAt)
	return &s, err
}

func scanNPC(r rowScanner) (*model.NPC, error) {
	var n model.NPC
	err := r.Scan(&n.ChannelID, &n.TemplateID, &n.Health, &n.SpawnedAt)
	return &n, err
}

// Store is the PostgreSQL storage.Store.
type Store struct {
	pool *Pool
}

// NewStore returns a Store backed by pool.
//
// Precondition: pool must be open and migrated.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Begin opens a read-committed transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	t, err := s.pool.DB().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &tx{tx: t}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreatePlayer inserts p.
//
// Postcondition: returns storage.ErrConflict if the id is taken.
func (s *Store) CreatePlayer(ctx context.Context, p model.Player) error {
	query, args, err := psql.Insert("players").
		Columns(playerColumns...).
		Values(p.ID, p.Health, p.MaxHealth, p.Level, p.XP, p.Money, p.Kills, p.NPCKills, p.BossKills, p.Deaths).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.pool.DB().Exec(ctx, query, args...)
	return mapErr(err, "inserting player")
}

// InsertQuest adds q.
func (s *Store) InsertQuest(ctx context.Context, q model.Quest) error {
	query, args, err := psql.Insert("quests").
		Columns(questColumns...).
		Values(q.ID, q.PlayerID, string(q.Type), q.Progress, q.Goal).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.pool.DB().Exec(ctx, query, args...)
	return mapErr(err, "inserting quest")
}

// SweepCooldowns deletes cooldowns expired before now.
func (s *Store) SweepCooldowns(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := psql.Delete("cooldowns").Where(squirrel.LtOrEq{"expires_at": now}).ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.DB().Exec(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err, "sweeping cooldowns")
	}
	return tag.RowsAffected(), nil
}

// SweepGround deletes ground items dropped before cutoff.
func (s *Store) SweepGround(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("items").
		Where(squirrel.Eq{"place": string(model.PlaceGround)}).
		Where(squirrel.Lt{"dropped_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.DB().Exec(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err, "sweeping ground")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Player(ctx context.Context, id string) (*model.Player, error) {
	return getPlayer(ctx, s.pool.DB(), id, false)
}

func (s *Store) Session(ctx context.Context, playerID string) (*model.RaidSession, error) {
	return getSession(ctx, s.pool.DB(), playerID, false)
}

func (s *Store) Sessions(ctx context.Context) ([]model.RaidSession, error) {
	query, args, err := psql.Select(sessionColumns...).From("raid_sessions").OrderBy("player_id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.DB().Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "listing sessions")
	}
	defer rows.Close()
	out := make([]model.RaidSession, 0)
	for rows.Next() {
		rs, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, *rs)
	}
	return out, rows.Err()
}

func (s *Store) Backpack(ctx context.Context, playerID string) ([]model.ItemInstance, error) {
	return listItems(ctx, s.pool.DB(), squirrel.Eq{"place": string(model.PlaceBackpack), "owner_id": playerID}, false)
}

func (s *Store) NPC(ctx context.Context, channelID string) (*model.NPC, error) {
	return getNPC(ctx, s.pool.DB(), channelID, false)
}

func (s *Store) Ground(ctx context.Context, channelID string) ([]model.ItemInstance, error) {
	return listItems(ctx, s.pool.DB(), squirrel.Eq{"place": string(model.PlaceGround), "channel_id": channelID}, false)
}

func forUpdate(b squirrel.SelectBuilder, lock bool) squirrel.SelectBuilder {
	if lock {
		return b.Suffix("FOR UPDATE")
	}
	return b
}

func getPlayer(ctx context.Context, q querier, id string, lock bool) (*model.Player, error) {
	query, args, err := forUpdate(psql.Select(playerColumns...).From("players").Where(squirrel.Eq{"id": id}), lock).ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanPlayer(q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("player %q", id))
	}
	return p, nil
}

func getSession(ctx context.Context, q querier, playerID string, lock bool) (*model.RaidSession, error) {
	query, args, err := forUpdate(psql.Select(sessionColumns...).From("raid_sessions").Where(squirrel.Eq{"player_id": playerID}), lock).ToSql()
	if err != nil {
		return nil, err
	}
	rs, err := scanSession(q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("session of %q", playerID))
	}
	return rs, nil
}

func getNPC(ctx context.Context, q querier, channelID string, lock bool) (*model.NPC, error) {
	query, args, err := forUpdate(psql.Select(npcColumns...).From("npcs").Where(squirrel.Eq{"channel_id": channelID}), lock).ToSql()
	if err != nil {
		return nil, err
	}
	n, err := scanNPC(q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("npc in %q", channelID))
	}
	return n, nil
}

func listItems(ctx context.Context, q querier, where squirrel.Eq, lock bool) ([]model.ItemInstance, error) {
	query, args, err := forUpdate(psql.Select(itemColumns...).From("items").Where(where).OrderBy("seq"), lock).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "listing items")
	}
	defer rows.Close()
	out := make([]model.ItemInstance, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		out = append(out, it)
	}
	return out, mapErr(rows.Err(), "listing items")
}

type tx struct {
	storage.Hooks
	tx   pgx.Tx
	done bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("postgres: transaction already closed")
	}
	t.done = true
	if err := t.tx.Commit(ctx); err != nil {
		t.Discard()
		return mapErr(err, "committing")
	}
	t.Fire()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.Discard()
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

func (t *tx) LockPlayer(ctx context.Context, id string) (*model.Player, error) {
	return getPlayer(ctx, t.tx, id, true)
}

func (t *tx) LockPlayers(ctx context.Context, ids ...string) (map[string]*model.Player, error) {
	query, args, err := psql.Select(playerColumns...).
		From("players").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "locking players")
	}
	defer rows.Close()
	out := make(map[string]*model.Player, len(ids))
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "locking players")
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("player %q: %w", id, storage.ErrNotFound)
		}
	}
	return out, nil
}

func (t *tx) LockSession(ctx context.Context, playerID string) (*model.RaidSession, error) {
	return getSession(ctx, t.tx, playerID, true)
}

func (t *tx) LockCooldown(ctx context.Context, playerID, kind string) (*model.Cooldown, error) {
	query, args, err := psql.Select("player_id", "kind", "expires_at").
		From("cooldowns").
		Where(squirrel.Eq{"player_id": playerID, "kind": kind}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	var c model.Cooldown
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&c.PlayerID, &c.Kind, &c.ExpiresAt); err != nil {
		return nil, mapErr(err, fmt.Sprintf("cooldown %s/%s", playerID, kind))
	}
	return &c, nil
}

func (t *tx) LockBackpack(ctx context.Context, playerID string) ([]model.ItemInstance, error) {
	return listItems(ctx, t.tx, squirrel.Eq{"place": string(model.PlaceBackpack), "owner_id": playerID}, true)
}

func (t *tx) LockQuests(ctx context.Context, playerID string) ([]model.Quest, error) {
	query, args, err := psql.Select(questColumns...).
		From("quests").
		Where(squirrel.Eq{"player_id": playerID}).
		OrderBy("id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "locking quests")
	}
	defer rows.Close()
	out := make([]model.Quest, 0)
	for rows.Next() {
		var (
			q  model.Quest
			qt string
		)
		if err := rows.Scan(&q.ID, &q.PlayerID, &qt, &q.Progress, &q.Goal); err != nil {
			return nil, fmt.Errorf("scanning quest row: %w", err)
		}
		q.Type = model.QuestType(qt)
		out = append(out, q)
	}
	return out, mapErr(rows.Err(), "locking quests")
}

func (t *tx) LockNPC(ctx context.Context, channelID string) (*model.NPC, error) {
	return getNPC(ctx, t.tx, channelID, true)
}

func (t *tx) LockInstance(ctx context.Context, instanceID string) error {
	_, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", instanceID)
	return mapErr(err, fmt.Sprintf("locking instance %q", instanceID))
}

func (t *tx) exec(ctx context.Context, b squirrel.Sqlizer, what string) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err, what)
	}
	return tag.RowsAffected(), nil
}

// execOne runs b and reports storage.ErrNotFound when no row was touched.
func (t *tx) execOne(ctx context.Context, b squirrel.Sqlizer, what string) error {
	n, err := t.exec(ctx, b, what)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

func (t *tx) UpdatePlayer(ctx context.Context, p *model.Player) error {
	return t.execOne(ctx, psql.Update("players").SetMap(map[string]any{
		"health":     p.Health,
		"max_health": p.MaxHealth,
		"level":      p.Level,
		"xp":         p.XP,
		"money":      p.Money,
		"kills":      p.Kills,
		"npc_kills":  p.NPCKills,
		"boss_kills": p.BossKills,
		"deaths":     p.Deaths,
	}).Where(squirrel.Eq{"id": p.ID}), fmt.Sprintf("updating player %q", p.ID))
}

func (t *tx) SetCooldown(ctx context.Context, c model.Cooldown) error {
	_, err := t.exec(ctx, psql.Insert("cooldowns").
		Columns("player_id", "kind", "expires_at").
		Values(c.PlayerID, c.Kind, c.ExpiresAt).
		Suffix("ON CONFLICT (player_id, kind) DO UPDATE SET expires_at = EXCLUDED.expires_at"),
		"setting cooldown")
	return err
}

func (t *tx) UpdateQuest(ctx context.Context, q model.Quest) error {
	return t.execOne(ctx, psql.Update("quests").
		Set("progress", q.Progress).
		Where(squirrel.Eq{"id": q.ID}), fmt.Sprintf("updating quest %s", q.ID))
}

func (t *tx) InsertItem(ctx context.Context, it model.ItemInstance) error {
	_, err := t.exec(ctx, psql.Insert("items").
		Columns(itemColumns...).
		Values(it.ID, it.Template, it.Durability, string(it.Place), nullable(it.OwnerID), nullable(it.ChannelID), it.Equipped, nullableTime(it.DroppedAt)),
		fmt.Sprintf("inserting item %s", it.ID))
	return err
}

func (t *tx) UpdateItem(ctx context.Context, it model.ItemInstance) error {
	return t.execOne(ctx, psql.Update("items").SetMap(map[string]any{
		"durability": it.Durability,
		"place":      string(it.Place),
		"owner_id":   nullable(it.OwnerID),
		"channel_id": nullable(it.ChannelID),
		"equipped":   it.Equipped,
		"dropped_at": nullableTime(it.DroppedAt),
	}).Where(squirrel.Eq{"id": it.ID}), fmt.Sprintf("updating item %s", it.ID))
}

func (t *tx) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return t.execOne(ctx, psql.Delete("items").Where(squirrel.Eq{"id": id}), fmt.Sprintf("deleting item %s", id))
}

func (t *tx) DeleteBackpack(ctx context.Context, playerID string) (int64, error) {
	return t.exec(ctx, psql.Delete("items").
		Where(squirrel.Eq{"place": string(model.PlaceBackpack), "owner_id": playerID}),
		"deleting backpack")
}

func (t *tx) InsertNPC(ctx context.Context, n model.NPC) (bool, error) {
	count, err := t.exec(ctx, psql.Insert("npcs").
		Columns(npcColumns...).
		Values(n.ChannelID, n.TemplateID, n.Health, n.SpawnedAt).
		Suffix("ON CONFLICT (channel_id) DO NOTHING"),
		fmt.Sprintf("inserting npc in %q", n.ChannelID))
	return count == 1, err
}

func (t *tx) UpdateNPC(ctx context.Context, n model.NPC) error {
	return t.execOne(ctx, psql.Update("npcs").
		Set("health", n.Health).
		Where(squirrel.Eq{"channel_id": n.ChannelID}), fmt.Sprintf("updating npc in %q", n.ChannelID))
}

func (t *tx) DeleteNPC(ctx context.Context, channelID string) error {
	_, err := t.exec(ctx, psql.Delete("npcs").Where(squirrel.Eq{"channel_id": channelID}), "deleting npc")
	return err
}

func (t *tx) InsertSession(ctx context.Context, s model.RaidSession) error {
	_, err := t.exec(ctx, psql.Insert("raid_sessions").
		Columns(sessionColumns...).
		Values(s.ID, s.PlayerID, s.LocationID, s.InstanceID, s.StartedAt, s.ExpiresAt),
		fmt.Sprintf("inserting session of %q", s.PlayerID))
	return err
}

func (t *tx) DeleteSession(ctx context.Context, playerID string) error {
	_, err := t.exec(ctx, psql.Delete("raid_sessions").Where(squirrel.Eq{"player_id": playerID}), "deleting session")
	return err
}

func (t *tx) CountMembers(ctx context.Context, instanceID string) (int, error) {
	query, args, err := psql.Select("count(*)").From("raid_sessions").Where(squirrel.Eq{"instance_id": instanceID}).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapErr(err, "counting members")
	}
	return n, nil
}
