package main

import (
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
)

// botSettings holds the settings for the bot.
type botSettings struct {
	// LogChannelID is the channel that audit events are posted to. The bot
	// serves the guild that this channel belongs to.
	LogChannelID discord.ChannelID
	// AdminRoleIDs is a list of role IDs that are allowed to use the admin
	// commands. Members with these roles may also claim custom roles without
	// boosting.
	AdminRoleIDs []discord.RoleID
	// RoleCooldown is the minimum time gap between each custom role edit by
	// the same member.
	RoleCooldown time.Duration
	// TestRoleCooldown is the minimum time gap between each test role request
	// by the same member.
	TestRoleCooldown time.Duration
	// TestRoleDuration is how long a test role lives before it is deleted.
	TestRoleDuration time.Duration
	// LeaderboardPageSize is the number of boosters shown per page.
	LeaderboardPageSize int
	// AuditLogInterval is the minimum time gap between each audit log post.
	AuditLogInterval time.Duration
	// CooldownSweepInterval is how often expired cooldowns are forgotten.
	CooldownSweepInterval time.Duration
}

var settings = botSettings{
	LogChannelID: 1022687014093672498, // #booster-log

	AdminRoleIDs: []discord.RoleID{
		808121046028779602, // @Dev Board
	},

	RoleCooldown:          10 * time.Minute,
	TestRoleCooldown:      30 * time.Minute,
	TestRoleDuration:      5 * time.Minute,
	LeaderboardPageSize:   10,
	AuditLogInterval:      time.Second,
	CooldownSweepInterval: 15 * time.Minute,
}
