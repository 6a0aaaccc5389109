package gameserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/raidbot/internal/game"
	"github.com/cory-johannsen/raidbot/internal/game/combat"
	"github.com/cory-johannsen/raidbot/internal/game/damage"
	"github.com/cory-johannsen/raidbot/internal/game/model"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
	"github.com/cory-johannsen/raidbot/internal/game/raid"
)

// Server implements RaidServiceServer on top of the engine.
type Server struct {
	combat *combat.Orchestrator
	raids  *raid.Manager
	npcs   *npc.Lifecycle
	logger *zap.Logger
}

// NewServer returns a Server.
//
// Precondition: every argument is non-nil.
func NewServer(c *combat.Orchestrator, r *raid.Manager, n *npc.Lifecycle, logger *zap.Logger) *Server {
	if c == nil || r == nil || n == nil || logger == nil {
		panic("gameserver.NewServer: nil dependency")
	}
	return &Server{combat: c, raids: r, npcs: n, logger: logger}
}

// request reads string fields out of a Struct request.
type request struct {
	in      *structpb.Struct
	missing []string
}

func (r *request) str(name string, required bool) string {
	v := strings.TrimSpace(r.in.GetFields()[name].GetStringValue())
	if v == "" && required {
		r.missing = append(r.missing, name)
	}
	return v
}

func (r *request) flag(name string) bool {
	return r.in.GetFields()[name].GetBoolValue()
}

func (r *request) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return status.Errorf(codes.InvalidArgument, "missing required fields: %s", strings.Join(r.missing, ", "))
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// Attack resolves one attack.
//
// Request: player, channel, optional target (player id) and part.
func (s *Server) Attack(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &request{in: in}
	cmd := combat.Request{
		ActorID:        req.str("player", true),
		ChannelID:      req.str("channel", true),
		TargetPlayerID: req.str("target", false),
	}
	part := req.str("part", false)
	if err := req.err(); err != nil {
		return nil, err
	}
	var err error
	if cmd.Part, err = damage.ParsePart(part); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.combat.Attack(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"target":           res.Target.String(),
		"target_id":        res.TargetID,
		"outcome":          res.Outcome(),
		"strike":           strike(res.Strike),
		"weapon":           res.Weapon.Template,
		"weapon_remaining": res.Weapon.Remaining,
		"weapon_broken":    res.Weapon.Broken,
		"ammo":             res.Ammo,
		"cooldown_seconds": res.Cooldown.Seconds(),
		"xp":               res.Credit.XP,
		"bonus_xp":         res.Bonus,
		"dropped":          names(res.Dropped),
		"quests_completed": len(res.Credit.Completed),
	}
	if res.Death != nil {
		out["dropped"] = names(res.Death.Dropped)
	}
	if r := res.Retaliation; r != nil {
		out["retaliation"] = map[string]any{
			"strike":  strike(r.Strike),
			"dropped": names(r.Dropped),
		}
	}
	return reply(out)
}

func strike(s combat.Strike) map[string]any {
	out := map[string]any{
		"part":       s.Hit.Part.String(),
		"damage":     s.Hit.Final,
		"reduced":    s.Hit.Reduced,
		"missed":     s.Hit.Missed,
		"health":     s.Health,
		"max_health": s.MaxHealth,
		"killed":     s.Killed,
	}
	if s.Armor != nil {
		out["armor"] = map[string]any{
			"item":      s.Armor.Template,
			"remaining": s.Armor.Remaining,
			"broken":    s.Armor.Broken,
		}
	}
	return out
}

func names(items []model.ItemInstance) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.Template)
	}
	return out
}

// JoinRaid places a player in a raid.
//
// Request: player, location.
func (s *Server) JoinRaid(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &request{in: in}
	player, loc := req.str("player", true), req.str("location", true)
	if err := req.err(); err != nil {
		return nil, err
	}
	rs, err := s.raids.Join(ctx, player, loc)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"session_id": rs.ID.String(),
		"location":   rs.LocationID,
		"instance":   rs.InstanceID,
		"started_at": rs.StartedAt.UTC().Format(time.RFC3339),
		"expires_at": rs.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Evacuate starts an evac.
//
// Request: player, channel, confirm. Without confirm the call is rejected
// with not_confirmed and the status message carries the confirmation prompt.
func (s *Server) Evacuate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &request{in: in}
	player, channel := req.str("player", true), req.str("channel", true)
	confirmed := req.flag("confirm")
	if err := req.err(); err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		prompt string
	)
	confirm := raid.ConfirmFunc(func(_ context.Context, _, p string) (bool, error) {
		mu.Lock()
		prompt = p
		mu.Unlock()
		return confirmed, nil
	})
	ev, err := s.raids.Evacuate(ctx, player, channel, confirm)
	if r, ok := game.AsRejection(err); ok && r.Code == game.CodeNotConfirmed {
		mu.Lock()
		defer mu.Unlock()
		return nil, toStatus(game.Reject(game.CodeNotConfirmed, "%s", prompt))
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"channel":          ev.ChannelID,
		"duration_seconds": ev.Duration.Seconds(),
		"extracts_at":      ev.ExtractsAt().UTC().Format(time.RFC3339),
		"key":              ev.Key,
		"key_remaining":    ev.KeyRemaining,
		"key_broken":       ev.KeyBroken,
	})
}

// Search reports the NPC in a channel and the items on its ground.
//
// Request: channel.
func (s *Server) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &request{in: in}
	channel := req.str("channel", true)
	if err := req.err(); err != nil {
		return nil, err
	}
	res, err := s.npcs.Search(ctx, channel)
	if errors.Is(err, game.ErrInvariant) {
		return nil, status.Errorf(codes.NotFound, "unknown channel %q", channel)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{"channel": channel, "ground": names(res.Ground), "npc": nil}
	if res.NPC != nil {
		out["npc"] = map[string]any{
			"template":   res.Template.ID,
			"display":    res.Template.Display,
			"kind":       string(res.Template.Kind),
			"health":     res.NPC.Health,
			"max_health": res.Template.Health,
		}
	}
	return reply(out)
}

// ResetChannel clears a spawn channel: the NPC present, if any, is removed
// without drops and the respawn timer restarts. The chat platform calls it
// when a channel is reset on its side.
//
// Request: channel.
func (s *Server) ResetChannel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &request{in: in}
	channel := req.str("channel", true)
	if err := req.err(); err != nil {
		return nil, err
	}
	err := s.npcs.Reset(ctx, channel)
	if errors.Is(err, game.ErrInvariant) {
		return nil, status.Errorf(codes.NotFound, "no npc channel %q", channel)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("channel reset", zap.String("channel", channel))
	return reply(map[string]any{"channel": channel})
}
