package discord

import (
	"context"
	"fmt"
	"strconv"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERMISSION BITS
// ══════════════════════════════════════════════════════════════════════════════

// Permission bitfield values.
const (
	PermissionAdministrator  uint64 = 1 << 3
	PermissionSendMessages   uint64 = 1 << 11
	PermissionManageMessages uint64 = 1 << 13
	PermissionConnect        uint64 = 1 << 20
	PermissionMoveMembers    uint64 = 1 << 24
)

// parsePermissions decodes Discord's stringified permission bitfield.
func parsePermissions(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// PERMISSION COMPUTATION
// ══════════════════════════════════════════════════════════════════════════════

// ComputeOwnPermissions computes the bot's effective permission bitfield in a
// channel: the union of its roles' permissions with the channel's overwrites
// applied (role overwrites first, then member overwrites).
func (c *Client) ComputeOwnPermissions(ctx context.Context, channelID string) (uint64, error) {
	ch, err := c.GetChannel(ctx, channelID)
	if err != nil {
		return 0, err
	}
	if ch.GuildID == "" {
		// DM channels carry an implicit send permission and nothing else.
		return PermissionSendMessages, nil
	}

	member, err := c.GetOwnMember(ctx, ch.GuildID)
	if err != nil {
		return 0, err
	}
	roles, err := c.GetGuildRoles(ctx, ch.GuildID)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}

	// Base permissions: @everyone role (id == guild id) plus assigned roles.
	var perms uint64
	if everyone, ok := byID[ch.GuildID]; ok {
		perms = parsePermissions(everyone.Permissions)
	}
	for _, roleID := range member.Roles {
		if r, ok := byID[roleID]; ok {
			perms |= parsePermissions(r.Permissions)
		}
	}
	if perms&PermissionAdministrator != 0 {
		return ^uint64(0), nil
	}

	perms = applyOverwrites(perms, ch.PermissionOverwrites, ch.GuildID, member.Roles, c.ownUserID(ctx))
	return perms, nil
}

// applyOverwrites applies channel overwrites in Discord's documented order:
// @everyone deny/allow, then role deny, role allow, then member deny/allow.
func applyOverwrites(perms uint64, overwrites []PermissionOverwrite, guildID string, memberRoles []string, userID string) uint64 {
	roleSet := make(map[string]struct{}, len(memberRoles))
	for _, id := range memberRoles {
		roleSet[id] = struct{}{}
	}

	for _, ow := range overwrites {
		if ow.Type == 0 && ow.ID == guildID {
			perms &^= parsePermissions(ow.Deny)
			perms |= parsePermissions(ow.Allow)
		}
	}

	var roleAllow, roleDeny uint64
	for _, ow := range overwrites {
		if ow.Type == 0 && ow.ID != guildID {
			if _, ok := roleSet[ow.ID]; ok {
				roleDeny |= parsePermissions(ow.Deny)
				roleAllow |= parsePermissions(ow.Allow)
			}
		}
	}
	perms &^= roleDeny
	perms |= roleAllow

	for _, ow := range overwrites {
		if ow.Type == 1 && ow.ID == userID {
			perms &^= parsePermissions(ow.Deny)
			perms |= parsePermissions(ow.Allow)
		}
	}
	return perms
}

// ownUserID returns the bot's cached user id, fetching it on first use.
func (c *Client) ownUserID(ctx context.Context) string {
	c.ownUserMu.RLock()
	id := c.ownUser
	c.ownUserMu.RUnlock()
	if id != "" {
		return id
	}

	var u User
	if err := c.doRequest(ctx, "GET", "/users/@me", nil, &u); err != nil {
		c.logger.Warn("failed to fetch own user", "error", err)
		return ""
	}

	c.ownUserMu.Lock()
	c.ownUser = u.ID
	c.ownUserMu.Unlock()
	return u.ID
}

// HasPermission reports whether the bot holds the given permission bit in a
// channel.
func (c *Client) HasPermission(ctx context.Context, channelID string, bit uint64) (bool, error) {
	perms, err := c.ComputeOwnPermissions(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("compute permissions: %w", err)
	}
	return perms&bit != 0, nil
}
