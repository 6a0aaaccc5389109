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
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/storage"
)

// Confirmer asks a player to confirm an action.
type Confirmer interface {
	// Confirm reports whether playerID accepted prompt. A decline or a
	// timeout is false with a nil error.
	Confirm(ctx context.Context, playerID, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, playerID, prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, playerID, prompt string) (bool, error) {
	return f(ctx, playerID, prompt)
}

// AutoConfirm accepts every prompt.
var AutoConfirm Confirmer = ConfirmFunc(func(context.Context, string, string) (bool, error) {
	return true, nil
})

// Evacuation describes a started evac.
type Evacuation struct {
	Evac
	// Key is the key template spent, empty for a free evac.
	Key          string
	KeyRemaining int
	KeyBroken    bool
}

// Extraction is the outcome of a completed evac.
type Extraction struct {
	Session model.RaidSession
	// Items is the number of backpack items the player kept.
	Items   int
	Elapsed time.Duration
}

// Evacuate starts the evacuation of playerID from channelID.
//
// The channel must be an evac channel of the player's raid and the player
// must not already be evacuating. When the evac needs a key the player must
// carry one, both before and after confirming; the key with the most
// durability left loses one point. Stage messages follow at one and two
// thirds of the evac time and the player is extracted at the end.
//
// Postcondition: on error no key was spent and the player is not registered
// as evacuating.
func (m *Manager) Evacuate(ctx context.Context, playerID, channelID string, confirm Confirmer) (*Evacuation, error) {
	defer m.Metrics.ObserveCommand("evacuate", time.Now())
	ev, err := m.evacuate(ctx, playerID, channelID, confirm)
	if err != nil {
		m.failed("evacuate", playerID, err)
		return nil, err
	}
	return ev, nil
}

func (m *Manager) evacuate(ctx context.Context, playerID, channelID string, confirm Confirmer) (*Evacuation, error) {
	rs, err := m.Store.Session(ctx, playerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, game.Reject(game.CodeNotInRaid, "You are not in a raid.")
	}
	if err != nil {
		return nil, err
	}
	res, ok := m.Locations.Resolve(channelID)
	if !ok || res.Instance != rs.InstanceID {
		return nil, game.Reject(game.CodeWrongChannel, "You can only evac from your own raid.")
	}
	evac := res.Channel.Evac
	if evac == nil {
		return nil, game.Reject(game.CodeNotEvacChannel, "You can't evac from this channel. Look for an evac channel to escape this raid.")
	}
	if _, busy := m.evacs.Active(playerID); busy {
		return nil, game.Reject(game.CodeAlreadyEvacuating, "You are currently evacuating this raid.")
	}

	prompt := fmt.Sprintf("Are you sure you want to evac here? The escape will take %s.", evac.Duration())
	if evac.RequiresKey != "" {
		backpack, err := m.Store.Backpack(ctx, playerID)
		if err != nil {
			return nil, err
		}
		if _, err := m.bestKey(backpack, evac.RequiresKey); err != nil {
			return nil, err
		}
		prompt = fmt.Sprintf("Are you sure you want to evac here using your %s? The escape will take %s.", evac.RequiresKey, evac.Duration())
	}

	ok, err = confirm.Confirm(ctx, playerID, prompt)
	if err != nil {
		return nil, fmt.Errorf("raid: confirming evac of %s: %w", playerID, err)
	}
	if !ok {
		return nil, game.Reject(game.CodeNotConfirmed, "Evac canceled.")
	}

	out := &Evacuation{Evac: Evac{SessionID: rs.ID, ChannelID: channelID, StartedAt: m.Now(), Duration: evac.Duration()}}
	if !m.evacs.Begin(playerID, out.Evac) {
		return nil, game.Reject(game.CodeAlreadyEvacuating, "You are currently evacuating this raid.")
	}
	err = storage.WithTx(ctx, m.Store, func(tx storage.Tx) error {
		if _, err := tx.LockPlayer(ctx, playerID); err != nil {
			return err
		}
		cur, err := tx.LockSession(ctx, playerID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && cur.ID != rs.ID) {
			return game.RaceLost(game.CodeNotInRaid, "Your raid ended before the evac started.")
		}
		if err != nil {
			return err
		}
		if evac.RequiresKey != "" {
			backpack, err := tx.LockBackpack(ctx, playerID)
			if err != nil {
				return err
			}
			key, err := m.bestKey(backpack, evac.RequiresKey)
			if r, ok := game.AsRejection(err); ok {
				return game.RaceLost(r.Code, "%s", r.Message)
			}
			if err != nil {
				return err
			}
			w, err := m.Items.Wear(ctx, tx, key.Item, 1)
			if err != nil {
				return err
			}
			out.Key, out.KeyRemaining, out.KeyBroken = key.Template.Name, w.Remaining, w.Broken
		}
		tx.AfterCommit(func() {
			m.armEvac(playerID, res, out.Evac)
			m.Metrics.Raid("evac_start", res.Location.ID)
			m.Logger.Info("evac started",
				zap.String("player", playerID),
				zap.String("channel", channelID),
				zap.Duration("duration", out.Duration),
				zap.String("key", out.Key),
			)
		})
		return nil
	})
	if err != nil {
		m.evacs.EndSession(playerID, rs.ID)
		return nil, raceLost(err)
	}
	return out, nil
}

// bestKey returns the matching key with the most durability left.
func (m *Manager) bestKey(backpack []model.ItemInstance, keyName string) (*inventory.Entry, error) {
	l, err := m.Items.Loadout(backpack)
	if err != nil {
		return nil, err
	}
	key := l.BestKey(keyName)
	if key == nil {
		return nil, game.Reject(game.CodeMissingKey, "Using this evac requires you to have a %s in your backpack.", keyName)
	}
	return key, nil
}

// armEvac schedules the two stage messages and the final extraction.
func (m *Manager) armEvac(playerID string, res location.Resolved, ev Evac) {
	third := ev.Duration / 3
	m.Scheduler.ScheduleOnce(EvacKey(playerID, StageOne), third, func() {
		m.stage(playerID, ev, ev.Duration-third)
	})
	m.Scheduler.ScheduleOnce(EvacKey(playerID, StageTwo), 2*third, func() {
		m.stage(playerID, ev, ev.Duration-2*third)
	})
	m.Scheduler.ScheduleOnce(EvacKey(playerID, StageExtract), ev.Duration, func() {
		if _, err := m.extract(context.Background(), playerID, ev.SessionID, res); err != nil {
			m.Logger.Error("extraction failed", zap.String("player", playerID), zap.Error(err))
		}
	})
}

// stage posts a countdown message while the player is still evacuating the
// same, still running, session.
func (m *Manager) stage(playerID string, ev Evac, left time.Duration) {
	cur, ok := m.evacs.Active(playerID)
	if !ok || cur.SessionID != ev.SessionID {
		return
	}
	rs, err := m.Store.Session(context.Background(), playerID)
	if err != nil || rs.ID != ev.SessionID {
		return
	}
	msg := fmt.Sprintf("%s, %s until extraction!", playerID, left)
	if err := m.Notifier.Send(context.Background(), ev.ChannelID, msg); err != nil {
		m.notifyFailed(notify.KindMessage, err)
	}
}

// extract completes the evac of session sessionID: the expiry timer stops,
// the session ends and the player keeps the backpack.
//
// Postcondition: returns nil without effect when the session already ended.
func (m *Manager) extract(ctx context.Context, playerID string, sessionID uuid.UUID, res location.Resolved) (*Extraction, error) {
	defer m.evacs.EndSession(playerID, sessionID)
	var out *Extraction
	err := storage.WithTx(ctx, m.Store, func(tx storage.Tx) error {
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
		backpack, err := tx.LockBackpack(ctx, playerID)
		if err != nil {
			return err
		}
		if err := tx.DeleteSession(ctx, playerID); err != nil {
			return fmt.Errorf("raid: ending session of %s: %w", playerID, err)
		}
		out = &Extraction{Session: *rs, Items: len(backpack), Elapsed: m.Now().Sub(rs.StartedAt)}
		tx.AfterCommit(func() {
			m.Scheduler.Cancel(ExpiryKey(playerID))
			m.Metrics.Raid("extraction", rs.LocationID)
			m.Logger.Info("player extracted",
				zap.String("player", playerID),
				zap.String("instance", rs.InstanceID),
				zap.Int("items", out.Items),
				zap.Duration("elapsed", out.Elapsed),
			)
			m.expel(playerID, rs.InstanceID, "evacuated", fmt.Sprintf(
				"%s raid successful! You spent a total of %s in raid and managed to evac with %d items in your backpack.",
				res.Location.Display, out.Elapsed.Round(time.Second), out.Items))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
