package bot

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"nukeshield/internal/policy"

	"github.com/bwmarrin/discordgo"
)

// The session state is updated before handlers run, so the previous
// name, position and permissions of an entity are kept here.

type channelSnapshot struct {
	name       string
	position   int
	overwrites string
}

type roleSnapshot struct {
	name        string
	permissions int64
}

type entityCache struct {
	mu       sync.Mutex
	channels map[string]channelSnapshot
	roles    map[string]roleSnapshot
	webhooks map[string]map[string]struct{}
	seeded   map[string]bool
}

func newEntityCache() *entityCache {
	return &entityCache{
		channels: make(map[string]channelSnapshot),
		roles:    make(map[string]roleSnapshot),
		webhooks: make(map[string]map[string]struct{}),
		seeded:   make(map[string]bool),
	}
}

func snapshotChannel(c *discordgo.Channel) channelSnapshot {
	return channelSnapshot{name: c.Name, position: c.Position, overwrites: overwriteSignature(c.PermissionOverwrites)}
}

// putChannel stores c and returns what was cached before.
func (e *entityCache) putChannel(c *discordgo.Channel) (channelSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.channels[c.ID]
	e.channels[c.ID] = snapshotChannel(c)
	return prev, ok
}

func (e *entityCache) dropChannel(id string) (channelSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.channels[id]
	delete(e.channels, id)
	delete(e.webhooks, id)
	return prev, ok
}

func (e *entityCache) putRole(r *discordgo.Role) (roleSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.roles[r.ID]
	e.roles[r.ID] = roleSnapshot{name: r.Name, permissions: r.Permissions}
	return prev, ok
}

func (e *entityCache) dropRole(id string) (roleSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.roles[id]
	delete(e.roles, id)
	return prev, ok
}

func (e *entityCache) seedWebhooks(guildID string, hooks []*discordgo.Webhook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, hook := range hooks {
		set := e.webhooks[hook.ChannelID]
		if set == nil {
			set = make(map[string]struct{})
			e.webhooks[hook.ChannelID] = set
		}
		set[hook.ID] = struct{}{}
	}
	e.seeded[guildID] = true
}

// newWebhooks replaces the channel's known webhooks with hooks and returns
// the ones not seen before. Until the guild has been seeded nothing is
// reported as new.
func (e *entityCache) newWebhooks(guildID, channelID string, hooks []*discordgo.Webhook) []*discordgo.Webhook {
	e.mu.Lock()
	defer e.mu.Unlock()
	known := e.webhooks[channelID]
	current := make(map[string]struct{}, len(hooks))
	var fresh []*discordgo.Webhook
	for _, hook := range hooks {
		current[hook.ID] = struct{}{}
		if _, ok := known[hook.ID]; !ok {
			fresh = append(fresh, hook)
		}
	}
	e.webhooks[channelID] = current
	if !e.seeded[guildID] {
		e.seeded[guildID] = true
		return nil
	}
	return fresh
}

func overwriteSignature(overwrites []*discordgo.PermissionOverwrite) string {
	parts := make([]string, 0, len(overwrites))
	for _, o := range overwrites {
		if o == nil {
			continue
		}
		parts = append(parts, o.ID+":"+strconv.Itoa(int(o.Type))+":"+
			strconv.FormatInt(o.Allow, 10)+":"+strconv.FormatInt(o.Deny, 10))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func channelDiff(prev, cur channelSnapshot) policy.Diff {
	return policy.Diff{
		OldName:           prev.name,
		NewName:           cur.name,
		PositionChanged:   prev.position != cur.position,
		OverwritesChanged: prev.overwrites != cur.overwrites,
	}
}

func roleDiff(prev, cur roleSnapshot) policy.Diff {
	return policy.Diff{
		OldName:        prev.name,
		NewName:        cur.name,
		OldPermissions: prev.permissions,
		NewPermissions: cur.permissions,
	}
}
