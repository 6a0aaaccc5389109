// Package location defines raid locations, their parallel raid instances, and
// the channels each instance carries.
package location

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Spawns configures NPC spawning in a channel.
type Spawns struct {
	NPCs []string `yaml:"npcs"`
	// CooldownMin and CooldownMax bound the respawn delay in seconds.
	CooldownMin int `yaml:"cooldown_min"`
	CooldownMax int `yaml:"cooldown_max"`
}

// Window returns the respawn delay bounds.
func (s *Spawns) Window() (time.Duration, time.Duration) {
	return time.Duration(s.CooldownMin) * time.Second, time.Duration(s.CooldownMax) * time.Second
}

// Evac configures an extraction point.
type Evac struct {
	// Time is the evac duration in seconds.
	Time int `yaml:"time"`
	// RequiresKey names a key template spent on use; empty when free.
	RequiresKey string `yaml:"requires_key"`
}

// Duration returns the evac duration.
func (e *Evac) Duration() time.Duration {
	return time.Duration(e.Time) * time.Second
}

// Channel is one named channel of a location.
type Channel struct {
	Name      string  `yaml:"name"`
	Display   string  `yaml:"display"`
	NPCSpawns *Spawns `yaml:"npc_spawns"`
	Evac      *Evac   `yaml:"evac"`
}

// Location is a raid destination played in one or more parallel instances.
type Location struct {
	ID      string `yaml:"id"`
	Display string `yaml:"display"`
	// RaidLength is the raid duration in seconds.
	RaidLength  int       `yaml:"raid_length"`
	PlayerLimit int       `yaml:"player_limit"`
	Level       int       `yaml:"level"`
	Instances   []string  `yaml:"instances"`
	Channels    []Channel `yaml:"channels"`
}

// Duration returns the raid length.
func (l *Location) Duration() time.Duration {
	return time.Duration(l.RaidLength) * time.Second
}

// Channel returns the channel with the given name.
func (l *Location) Channel(name string) (*Channel, bool) {
	for i := range l.Channels {
		if l.Channels[i].Name == name {
			return &l.Channels[i], true
		}
	}
	return nil, false
}

// Validate checks the location invariants.
//
// Postcondition: Returns nil iff id, instances and channels are present, the
// limits are positive, and every spawn and evac block is well formed.
func (l *Location) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("location: id must not be empty")
	}
	if l.RaidLength < 1 {
		return fmt.Errorf("location %q: raid_length must be >= 1", l.ID)
	}
	if l.PlayerLimit < 1 {
		return fmt.Errorf("location %q: player_limit must be >= 1", l.ID)
	}
	if len(l.Instances) == 0 {
		return fmt.Errorf("location %q: at least one instance is required", l.ID)
	}
	for _, inst := range l.Instances {
		if inst == "" || strings.Contains(inst, "/") {
			return fmt.Errorf("location %q: invalid instance id %q", l.ID, inst)
		}
	}
	seen := make(map[string]bool, len(l.Channels))
	for _, ch := range l.Channels {
		if ch.Name == "" || strings.Contains(ch.Name, "/") {
			return fmt.Errorf("location %q: invalid channel name %q", l.ID, ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("location %q: duplicate channel %q", l.ID, ch.Name)
		}
		seen[ch.Name] = true
		if s := ch.NPCSpawns; s != nil {
			if len(s.NPCs) == 0 {
				return fmt.Errorf("location %q channel %q: npc_spawns.npcs must not be empty", l.ID, ch.Name)
			}
			if s.CooldownMin < 0 || s.CooldownMax < s.CooldownMin {
				return fmt.Errorf("location %q channel %q: cooldown window [%d, %d] is invalid", l.ID, ch.Name, s.CooldownMin, s.CooldownMax)
			}
		}
		if ch.Evac != nil && ch.Evac.Time < 1 {
			return fmt.Errorf("location %q channel %q: evac.time must be >= 1", l.ID, ch.Name)
		}
	}
	return nil
}

// ChannelID builds the id of a channel inside a raid instance.
func ChannelID(instance, channel string) string {
	return instance + "/" + channel
}

// SplitChannelID splits a channel id into instance and channel name.
func SplitChannelID(id string) (instance, channel string, ok bool) {
	instance, channel, ok = strings.Cut(id, "/")
	if !ok || instance == "" || channel == "" {
		return "", "", false
	}
	return instance, channel, true
}

// Resolved is a channel id resolved against the catalog.
type Resolved struct {
	Location *Location
	Instance string
	Channel  *Channel
}

// ID returns the channel id.
func (r Resolved) ID() string {
	return ChannelID(r.Instance, r.Channel.Name)
}

// Registry indexes locations by id and by instance.
type Registry struct {
	locations  map[string]*Location
	byInstance map[string]*Location
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		locations:  make(map[string]*Location),
		byInstance: make(map[string]*Location),
	}
}

// Register adds l.
//
// Precondition: l passes Validate.
// Postcondition: returns an error if the id or any instance is already taken.
func (r *Registry) Register(l *Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if _, ok := r.locations[l.ID]; ok {
		return fmt.Errorf("location %q already registered", l.ID)
	}
	for _, inst := range l.Instances {
		if other, ok := r.byInstance[inst]; ok {
			return fmt.Errorf("location %q: instance %q already belongs to %q", l.ID, inst, other.ID)
		}
	}
	r.locations[l.ID] = l
	for _, inst := range l.Instances {
		r.byInstance[inst] = l
	}
	return nil
}

// Location returns the location with the given id.
func (r *Registry) Location(id string) (*Location, bool) {
	l, ok := r.locations[id]
	return l, ok
}

// ByInstance returns the location played in the given raid instance.
func (r *Registry) ByInstance(instance string) (*Location, bool) {
	l, ok := r.byInstance[instance]
	return l, ok
}

// Resolve looks up a channel id.
func (r *Registry) Resolve(channelID string) (Resolved, bool) {
	inst, name, ok := SplitChannelID(channelID)
	if !ok {
		return Resolved{}, false
	}
	l, ok := r.byInstance[inst]
	if !ok {
		return Resolved{}, false
	}
	ch, ok := l.Channel(name)
	if !ok {
		return Resolved{}, false
	}
	return Resolved{Location: l, Instance: inst, Channel: ch}, true
}

// All returns every location sorted by id.
func (r *Registry) All() []*Location {
	out := make([]*Location, 0, len(r.locations))
	for _, l := range r.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SpawnChannels returns every NPC channel of every instance, in a stable order.
func (r *Registry) SpawnChannels() []Resolved {
	var out []Resolved
	for _, l := range r.All() {
		for _, inst := range l.Instances {
			for i := range l.Channels {
				if l.Channels[i].NPCSpawns != nil {
					out = append(out, Resolved{Location: l, Instance: inst, Channel: &l.Channels[i]})
				}
			}
		}
	}
	return out
}

// LoadLocations reads every .yaml file in dir, one location per file.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a populated Registry or the first error encountered.
func LoadLocations(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("LoadLocations: cannot read directory %q: %w", dir, err)
	}
	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || (filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadLocations: reading %q: %w", path, err)
		}
		var l Location
		if err := yaml.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("LoadLocations: parsing %q: %w", path, err)
		}
		if err := reg.Register(&l); err != nil {
			return nil, fmt.Errorf("LoadLocations: %q: %w", path, err)
		}
	}
	return reg, nil
}
