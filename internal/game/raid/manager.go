// Package raid manages raid sessions: joining a raid instance, timed expiry,
// and evacuation.
//
// States: NotInRaid → Joined → Evacuating → Extracted, with Expired reachable
// from Joined and Evacuating. A death in combat also ends the session; the
// combat engine then calls Forget.
package raid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/location"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/schedule"
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/observability"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// ExpiryKey is the scheduler key of a player's raid expiry timer.
func ExpiryKey(playerID string) string {
	return "raid:expiry:" + playerID
}

// Stage is one checkpoint of an evacuation.
type Stage int

const (
	StageOne Stage = iota + 1
	StageTwo
	StageExtract
)

func (s Stage) String() string {
	switch s {
	case StageOne:
		return "1"
	case StageTwo:
		return "2"
	case StageExtract:
		return "final"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// EvacKey is the scheduler key of one evac stage of a player.
func EvacKey(playerID string, s Stage) string {
	return "raid:evac:" + playerID + ":" + s.String()
}

// Deps collects the collaborators of a Manager.
type Deps struct {
	Store     storage.Store
	Locations *location.Registry
	Items     *inventory.Mutator
	Scheduler schedule.Scheduler
	Notifier  notify.Notifier
	Logger    *zap.Logger
	// Metrics may be nil.
	Metrics *observability.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns raid sessions and their timers.
type Manager struct {
	Deps
	evacs *EvacRegistry
}

// NewManager returns a Manager with an empty evac registry.
//
// Precondition: every field of d except Metrics and Now must be set.
func NewManager(d Deps) *Manager {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Manager{Deps: d, evacs: NewEvacRegistry()}
}

// Evacs returns the registry of in-flight evacuations.
func (m *Manager) Evacs() *EvacRegistry {
	return m.evacs
}

// Join places playerID in the first instance of locationID with room.
//
// Precondition: playerID names an existing player.
// Postcondition: on success the session is committed, its expiry timer is
// armed and an invite has been requested.
func (m *Manager) Join(ctx context.Context, playerID, locationID string) (*model.RaidSession, error) {
	defer m.Metrics.ObserveCommand("join", time.Now())
	rs, err := m.join(ctx, playerID, locationID)
	if err != nil {
		m.failed("join", playerID, err)
		return nil, err
	}
	return rs, nil
}

func (m *Manager) join(ctx context.Context, playerID, locationID string) (*model.RaidSession, error) {
	loc, ok := m.Locations.Location(locationID)
	if !ok {
		return nil, game.Reject(game.CodeUnknownLocation, "There is no location called %q.", locationID)
	}
	var rs model.RaidSession
	err := storage.WithTx(ctx, m.Store, func(tx storage.Tx) error {
		p, err := tx.LockPlayer(ctx, playerID)
		if errors.Is(err, storage.ErrNotFound) {
			return game.Reject(game.CodeNotInRaid, "You have no character to take on a raid.")
		}
		if err != nil {
			return fmt.Errorf("raid: locking player %s: %w", playerID, err)
		}
		_, err = tx.LockSession(ctx, playerID)
		switch {
		case err == nil:
			return game.Reject(game.CodeAlreadyInRaid, "You are already in an active raid.")
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		if p.Level < loc.Level {
			return game.Reject(game.CodeLevelTooLow, "You need level %d to raid %s.", loc.Level, loc.Display)
		}

		instance := ""
		for _, id := range loc.Instances {
			if err := tx.LockInstance(ctx, id); err != nil {
				return err
			}
			n, err := tx.CountMembers(ctx, id)
			if err != nil {
				return err
			}
			if n <= loc.PlayerLimit {
				instance = id
				break
			}
		}
		if instance == "" {
			return game.Reject(game.CodeRaidFull, "All of the %s raids are full, try again after some players have left.", loc.Display)
		}

		now := m.Now()
		rs = model.RaidSession{
			ID:         uuid.New(),
			PlayerID:   playerID,
			LocationID: loc.ID,
			InstanceID: instance,
			StartedAt:  now,
			ExpiresAt:  now.Add(loc.Duration()),
		}
		if err := tx.InsertSession(ctx, rs); err != nil {
			return fmt.Errorf("raid: creating session of %s: %w", playerID, err)
		}
		tx.AfterCommit(func() {
			m.armExpiry(rs)
			m.Metrics.Raid("join", loc.ID)
			m.Logger.Info("raid joined",
				zap.String("player", playerID),
				zap.String("location", loc.ID),
				zap.String("instance", instance),
				zap.Time("expires_at", rs.ExpiresAt),
			)
			if err := m.Notifier.Invite(context.Background(), playerID, instance); err != nil {
				m.notifyFailed(notify.KindInvite, err)
			}
		})
		return nil
	})
	if err != nil {
		return nil, raceLost(err)
	}
	return &rs, nil
}

// armExpiry schedules the expiry of rs, firing at once when its deadline
// already passed.
func (m *Manager) armExpiry(rs model.RaidSession) {
	delay := rs.ExpiresAt.Sub(m.Now())
	if delay < 0 {
		delay = 0
	}
	m.Scheduler.ScheduleOnce(ExpiryKey(rs.PlayerID), delay, func() {
		if err := m.expire(context.Background(), rs.PlayerID, rs.ID); err != nil {
			m.Logger.Error("raid expiry failed", zap.String("player", rs.PlayerID), zap.Error(err))
		}
	})
}

// expire ends session sessionID of playerID because its time ran out: the
// backpack is forfeited and the player is kicked. A session that has already
// ended or been replaced is left alone.
func (m *Manager) expire(ctx context.Context, playerID string, sessionID uuid.UUID) error {
	return storage.WithTx(ctx, m.Store, func(tx storage.Tx) error {
		if _, err := tx.LockPlayer(ctx, playerID); err != nil {
			return err
		}
		rs, err := tx.LockSession(ctx, playerID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rs.ID != sessionID {
			return nil
		}
		if _, err := tx.LockBackpack(ctx, playerID); err != nil {
			return err
		}
		lost, err := m.Items.Forfeit(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if err := tx.DeleteSession(ctx, playerID); err != nil {
			return fmt.Errorf("raid: ending session of %s: %w", playerID, err)
		}
		tx.AfterCommit(func() {
			m.cancelEvac(playerID)
			m.Metrics.Raid("expiry", rs.LocationID)
			m.Logger.Info("raid expired",
				zap.String("player", playerID),
				zap.String("instance", rs.InstanceID),
				zap.Int64("forfeited", lost),
			)
			m.expel(playerID, rs.InstanceID, "raid time ran out",
				fmt.Sprintf("Raid time ran out. You lost the %d items in your backpack.", lost))
		})
		return nil
	})
}

// cancelEvac stops every evac stage of playerID and drops its registry entry.
func (m *Manager) cancelEvac(playerID string) {
	for _, s := range []Stage{StageOne, StageTwo, StageExtract} {
		m.Scheduler.Cancel(EvacKey(playerID, s))
	}
	m.evacs.End(playerID)
}

// Forget releases every raid timer of playerID and ends any evacuation. The
// combat engine calls it after a death has removed the session.
func (m *Manager) Forget(playerID string) {
	m.Scheduler.Cancel(ExpiryKey(playerID))
	m.cancelEvac(playerID)
}

// Restore re-arms the expiry timers of sessions that survived a restart.
// Sessions whose deadline already passed expire immediately. In-flight
// evacuations do not survive a restart.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	sessions, err := m.Store.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("raid: listing sessions: %w", err)
	}
	for _, rs := range sessions {
		m.armExpiry(rs)
	}
	m.Logger.Info("raid sessions restored", zap.Int("sessions", len(sessions)))
	return len(sessions), nil
}

// raceLost turns a store conflict into a retryable rejection.
func raceLost(err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return game.RaceLost(game.CodeConflict, "Someone else acted first, try again.")
	}
	return err
}

func (m *Manager) failed(command, playerID string, err error) {
	if r, ok := game.AsRejection(err); ok {
		m.Metrics.Rejected(command, string(r.Code))
		m.Logger.Debug("raid command rejected",
			zap.String("command", command),
			zap.String("player", playerID),
			zap.String("code", string(r.Code)),
		)
		return
	}
	m.Logger.Error("raid command failed",
		zap.String("command", command),
		zap.String("player", playerID),
		zap.Error(err),
	)
}

// expel messages a player and removes them from the raid instance.
func (m *Manager) expel(playerID, instanceID, reason, msg string) {
	ctx := context.Background()
	if err := m.Notifier.Direct(ctx, playerID, msg); err != nil {
		m.notifyFailed(notify.KindDirect, err)
	}
	if err := m.Notifier.Kick(ctx, playerID, instanceID, reason); err != nil {
		m.notifyFailed(notify.KindKick, err)
	}
}

func (m *Manager) notifyFailed(kind notify.Kind, err error) {
	m.Metrics.NotificationFailed(string(kind))
	m.Logger.Warn("raid notification failed", zap.String("kind", string(kind)), zap.Error(err))
}
