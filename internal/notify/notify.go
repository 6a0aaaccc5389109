// Package notify delivers the engine's outbound side effects: channel
// messages, direct messages, and requests to kick or invite a player. The
// engine only notifies after a transaction has committed; delivery failures
// are logged by the caller and never roll back game state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an outbound action.
type Kind string

const (
	KindMessage Kind = "message"
	KindDirect  Kind = "direct"
	KindKick    Kind = "kick"
	KindInvite  Kind = "invite"
)

// Event is one outbound action as published to a Sink.
type Event struct {
	Kind       Kind      `json:"kind"`
	ChannelID  string    `json:"channel_id,omitempty"`
	PlayerID   string    `json:"player_id,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Key returns the partitioning key of the event: the player when one is
// addressed, otherwise the channel.
func (e Event) Key() string {
	if e.PlayerID != "" {
		return e.PlayerID
	}
	return e.ChannelID
}

// Encode returns the wire form of e.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("notify: encoding %s event: %w", e.Kind, err)
	}
	return b, nil
}

// Decode parses the wire form produced by Encode.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("notify: decoding event: %w", err)
	}
	return e, nil
}

// Notifier is the outbound contract used by the engine.
type Notifier interface {
	// Send posts msg to a channel.
	Send(ctx context.Context, channelID, msg string) error
	// Direct messages a player.
	Direct(ctx context.Context, playerID, msg string) error
	// Kick requests removal of a player from a raid instance.
	Kick(ctx context.Context, playerID, instanceID, reason string) error
	// Invite requests an access grant to a raid instance.
	Invite(ctx context.Context, playerID, instanceID string) error
}

// Sink receives encoded events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// SinkNotifier implements Notifier by publishing Events to a Sink.
type SinkNotifier struct {
	sink Sink
	now  func() time.Time
}

// NewNotifier returns a Notifier publishing to sink.
//
// Precondition: sink must be non-nil.
func NewNotifier(sink Sink) *SinkNotifier {
	return &SinkNotifier{sink: sink, now: time.Now}
}

// Send implements Notifier.
func (n *SinkNotifier) Send(ctx context.Context, channelID, msg string) error {
	return n.sink.Publish(ctx, Event{Kind: KindMessage, ChannelID: channelID, Message: msg, At: n.now()})
}

// Direct implements Notifier.
func (n *SinkNotifier) Direct(ctx context.Context, playerID, msg string) error {
	return n.sink.Publish(ctx, Event{Kind: KindDirect, PlayerID: playerID, Message: msg, At: n.now()})
}

// Kick implements Notifier.
func (n *SinkNotifier) Kick(ctx context.Context, playerID, instanceID, reason string) error {
	return n.sink.Publish(ctx, Event{Kind: KindKick, PlayerID: playerID, InstanceID: instanceID, Message: reason, At: n.now()})
}

// Invite implements Notifier.
func (n *SinkNotifier) Invite(ctx context.Context, playerID, instanceID string) error {
	return n.sink.Publish(ctx, Event{Kind: KindInvite, PlayerID: playerID, InstanceID: instanceID, At: n.now()})
}
