package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/ningen/v3"

	"libdb.so/boost-roles/internal/cooldown"
	"libdb.so/boost-roles/internal/customrole"
	"libdb.so/boost-roles/internal/leaderboard"
)

// parsedCommand describes a parsed command from a message.
// The bot expects a message of the following format:
//
//	<@botID> command [args...]
//	[body]
//
// The command is case-insensitive.
// The body is optional.
type parsedCommand struct {
	Command string
	Args    []string
	Body    string
}

// parseCommand parses the command from the message.
//
// If the message is not a command for this bot, (nil, nil) is returned. If
// any of the steps needed to perform those checks fail, an error is returned
// instead. Permission checks are done per command by the handler.
func parseCommand(dsession *ningen.State, bot botState, msg *gateway.MessageCreateEvent) (*parsedCommand, error) {
	// Ensure we don't invoke any API calls.
	// We shouldn't need to.
	dsession = dsession.Offline()

	// The message must come from the same guild.
	if msg.Member == nil || msg.GuildID != bot.TargetGuildID {
		return nil, nil
	}

	// Bots can't claim roles.
	if msg.Author.Bot {
		return nil, nil
	}

	// The message must explicitly mention it.
	if dsession.MessageMentions(&msg.Message)&ningen.MessageMentions == 0 {
		return nil, nil
	}

	return splitCommand(bot.SelfID, msg.Content), nil
}

// splitCommand splits content into a command. It returns nil if content is not
// a command addressed to selfID.
func splitCommand(selfID discord.UserID, content string) *parsedCommand {
	header, body, _ := strings.Cut(content, "\n")

	// The header must begin with its mention. Discord may send either form of
	// the mention.
	var ok bool
	for _, mention := range []string{selfID.Mention(), "<@!" + selfID.String() + ">"} {
		if rest, found := strings.CutPrefix(header, mention); found {
			header = rest
			ok = true
			break
		}
	}
	if !ok {
		return nil
	}

	fields := strings.Fields(header)

	// The command must be non-empty.
	if len(fields) == 0 {
		return nil
	}

	return &parsedCommand{
		Command: strings.ToLower(fields[0]),
		Args:    fields[1:],
		Body:    strings.TrimSpace(body),
	}
}

// parseUserMention parses a user mention like <@123> or <@!123>, or a bare
// user ID.
func parseUserMention(s string) (discord.UserID, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
		s = strings.TrimPrefix(s, "!")
	}

	sf, err := discord.ParseSnowflake(s)
	if err != nil || !sf.IsValid() {
		return 0, false
	}

	return discord.UserID(sf), true
}

// parseRoleArgs extracts the role name and color from a role command. The
// color is an optional first argument starting with '#'. The name is the body,
// or the remaining arguments if there is no body.
func parseRoleArgs(cmd *parsedCommand) (name string, color discord.Color, err error) {
	args := cmd.Args

	if len(args) > 0 && strings.HasPrefix(args[0], "#") {
		color, err = customrole.ParseColor(args[0])
		if err != nil {
			return "", 0, err
		}
		args = args[1:]
	}

	name = cmd.Body
	if name == "" {
		name = strings.Join(args, " ")
	}

	if err := customrole.ValidateName(name); err != nil {
		return "", 0, err
	}

	return name, color, nil
}

func isBooster(member *discord.Member) bool {
	return member != nil && member.BoostedSince.IsValid()
}

func hasAnyRole(member *discord.Member, roleIDs []discord.RoleID) bool {
	return member != nil && slices.ContainsFunc(member.RoleIDs, func(id discord.RoleID) bool {
		return slices.Contains(roleIDs, id)
	})
}

const helpText = "" +
	"**Booster commands**\n" +
	"`role [#color] <name>`: claim or edit your custom role\n" +
	"`testrole [#color] <name>`: preview a role for a few minutes\n" +
	"`removerole`: delete your custom role and test role\n" +
	"`boosters [page]`: list the server boosters\n" +
	"**Admin commands**\n" +
	"`inspect @user`: show a member's custom role\n" +
	"`revoke @user`: delete a member's custom role\n" +
	"`resetcooldown @user <command>`: reset a member's cooldown"

// commandHandler carries out parsed commands.
type commandHandler struct {
	session   *ningen.State
	bot       *botState
	cooldowns *cooldown.Tracker
	roles     *customrole.Manager
}

func (h *commandHandler) handle(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	switch cmd.Command {
	case "help":
		sendReply(h.session, ev, "here is what I can do:\n"+helpText)
	case "role":
		h.claimRole(ev, cmd)
	case "testrole":
		h.testRole(ev, cmd)
	case "removerole":
		h.removeRole(ev)
	case "boosters", "leaderboard":
		h.leaderboard(ev, cmd)
	case "inspect", "revoke", "resetcooldown":
		if !hasAnyRole(ev.Member, h.bot.AdminRoleIDs) {
			sendReply(h.session, ev, "you are not allowed to use this command.")
			return
		}
		switch cmd.Command {
		case "inspect":
			h.inspect(ev, cmd)
		case "revoke":
			h.revoke(ev, cmd)
		case "resetcooldown":
			h.resetCooldown(ev, cmd)
		}
	default:
		sendReply(h.session, ev, "unknown command. Try `help`.")
	}
}

// checkCooldown stamps the cooldown of the author for command. It replies and
// returns false if the author has to wait.
func (h *commandHandler) checkCooldown(ev *gateway.MessageCreateEvent, command string, window time.Duration) bool {
	out := h.cooldowns.CheckAndStamp(ev.Author.ID.String(), command, window)
	if out.Allowed {
		return true
	}

	sendReply(h.session, ev, fmt.Sprintf(
		"please wait %d seconds before using `%s` again.", out.Seconds(), command))
	return false
}

func (h *commandHandler) claimRole(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	if !isBooster(ev.Member) && !hasAnyRole(ev.Member, h.bot.AdminRoleIDs) {
		sendReply(h.session, ev, "only server boosters can claim a custom role.")
		return
	}

	name, color, err := parseRoleArgs(cmd)
	if err != nil {
		sendReply(h.session, ev, err.Error()+".")
		return
	}

	if !h.checkCooldown(ev, "role", h.bot.RoleCooldown) {
		return
	}

	rec, created, err := h.roles.Claim(ev.GuildID, ev.Author.ID, name, color)
	if err != nil {
		slog.Error(
			"Bot has failed to set up a custom role.",
			"author_id", ev.Author.ID,
			"err", err)

		// Don't hold the failure against the member.
		h.cooldowns.Clear(ev.Author.ID.String(), "role")
		replyInternalError(h.session, ev)
		return
	}

	if created {
		sendReply(h.session, ev, "your custom role "+rec.RoleID.Mention()+" has been created.")
	} else {
		sendReply(h.session, ev, "your custom role "+rec.RoleID.Mention()+" has been updated.")
	}
}

func (h *commandHandler) testRole(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	if !isBooster(ev.Member) && !hasAnyRole(ev.Member, h.bot.AdminRoleIDs) {
		sendReply(h.session, ev, "only server boosters can preview a custom role.")
		return
	}

	name, color, err := parseRoleArgs(cmd)
	if err != nil {
		sendReply(h.session, ev, err.Error()+".")
		return
	}

	if !h.checkCooldown(ev, "testrole", h.bot.TestRoleCooldown) {
		return
	}

	handle, err := h.roles.GrantTest(ev.GuildID, ev.Author.ID, name, color, h.bot.TestRoleDuration)
	if err != nil {
		slog.Error(
			"Bot has failed to set up a test role.",
			"author_id", ev.Author.ID,
			"err", err)

		h.cooldowns.Clear(ev.Author.ID.String(), "testrole")
		replyInternalError(h.session, ev)
		return
	}

	sendReply(h.session, ev, fmt.Sprintf(
		"here is your test role. It will be removed <t:%d:R>.", handle.DueAt().Unix()))
}

func (h *commandHandler) removeRole(ev *gateway.MessageCreateEvent) {
	var removed bool

	switch err := h.roles.CancelTest(ev.Author.ID); {
	case err == nil:
		removed = true
	case !errors.Is(err, customrole.ErrNoTestRole):
		slog.Error(
			"Bot has failed to remove a test role.",
			"author_id", ev.Author.ID,
			"err", err)
		replyInternalError(h.session, ev)
		return
	}

	switch err := h.roles.Revoke(ev.Author.ID, "removed by its owner"); {
	case err == nil:
		removed = true
	case !errors.Is(err, customrole.ErrNoCustomRole):
		slog.Error(
			"Bot has failed to remove a custom role.",
			"author_id", ev.Author.ID,
			"err", err)
		replyInternalError(h.session, ev)
		return
	}

	if !removed {
		sendReply(h.session, ev, "you don't have a custom role.")
		return
	}

	sendReply(h.session, ev, "your custom role has been removed.")
}

func (h *commandHandler) leaderboard(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	page := 1
	if len(cmd.Args) > 0 {
		n, err := strconv.Atoi(cmd.Args[0])
		if err != nil {
			sendReply(h.session, ev, "the page must be a number.")
			return
		}
		page = n
	}

	members, err := h.session.Cabinet.Members(h.bot.TargetGuildID)
	if err != nil {
		slog.Error(
			"Bot has failed to list the guild members.",
			"guild_id", h.bot.TargetGuildID,
			"err", err)
		replyInternalError(h.session, ev)
		return
	}

	boosters := leaderboard.Paginate(leaderboard.Boosters(members), page, h.bot.LeaderboardPageSize)
	sendEmbedReply(h.session, ev, leaderboard.Embed(boosters, time.Now()))
}

func (h *commandHandler) targetUser(ev *gateway.MessageCreateEvent, cmd *parsedCommand) (discord.UserID, bool) {
	if len(cmd.Args) == 0 {
		sendReply(h.session, ev, "please mention a member.")
		return 0, false
	}

	userID, ok := parseUserMention(cmd.Args[0])
	if !ok {
		sendReply(h.session, ev, "that is not a member mention.")
		return 0, false
	}

	return userID, true
}

func (h *commandHandler) inspect(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	userID, ok := h.targetUser(ev, cmd)
	if !ok {
		return
	}

	rec, ok, err := h.roles.Lookup(userID)
	if err != nil {
		slog.Error(
			"Bot has failed to look up a custom role.",
			"user_id", userID,
			"err", err)
		replyInternalError(h.session, ev)
		return
	}

	var b strings.Builder
	if ok {
		fmt.Fprintf(&b, "%s has the custom role %s (%q, %s), last changed <t:%d:R>.",
			userID.Mention(), rec.RoleID.Mention(), rec.Name,
			customrole.FormatColor(rec.Color), rec.UpdatedAt.Unix())
	} else {
		fmt.Fprintf(&b, "%s has no custom role.", userID.Mention())
	}
	if h.roles.HasTest(userID) {
		b.WriteString(" They are currently previewing a test role.")
	}

	sendReply(h.session, ev, b.String())
}

func (h *commandHandler) revoke(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	userID, ok := h.targetUser(ev, cmd)
	if !ok {
		return
	}

	err := h.roles.Revoke(userID, "revoked by "+ev.Author.Tag())
	switch {
	case errors.Is(err, customrole.ErrNoCustomRole):
		sendReply(h.session, ev, userID.Mention()+" has no custom role.")
	case err != nil:
		slog.Error(
			"Bot has failed to revoke a custom role.",
			"user_id", userID,
			"err", err)
		replyInternalError(h.session, ev)
	default:
		sendReply(h.session, ev, "the custom role of "+userID.Mention()+" has been revoked.")
	}
}

func (h *commandHandler) resetCooldown(ev *gateway.MessageCreateEvent, cmd *parsedCommand) {
	userID, ok := h.targetUser(ev, cmd)
	if !ok {
		return
	}

	if len(cmd.Args) < 2 {
		sendReply(h.session, ev, "please name the command to reset, like `role` or `testrole`.")
		return
	}

	command := strings.ToLower(cmd.Args[1])
	h.cooldowns.Clear(userID.String(), command)

	slog.Info(
		"Bot has reset a cooldown.",
		"admin_id", ev.Author.ID,
		"user_id", userID,
		"command", command)

	sendReply(h.session, ev, "the `"+command+"` cooldown of "+userID.Mention()+" has been reset.")
}

func replyInternalError(session *ningen.State, msg *gateway.MessageCreateEvent) {
	sendReply(session, msg, "this bot has encountered an internal error. This error has been logged.")
}

func sendReply(session *ningen.State, msg *gateway.MessageCreateEvent, content string) {
	content = msg.Author.Mention() + ", " + content

	_, err := session.SendMessageReply(msg.ChannelID, content, msg.ID)
	if err != nil {
		slog.Error(
			"Bot has failed to deliver a reply.",
			"channel_id", msg.ChannelID,
			"author_id", msg.Author.ID,
			"err", err)
	}
}

func sendEmbedReply(session *ningen.State, msg *gateway.MessageCreateEvent, embed discord.Embed) {
	_, err := session.SendMessageComplex(msg.ChannelID, api.SendMessageData{
		Embeds:    []discord.Embed{embed},
		Reference: &discord.MessageReference{MessageID: msg.ID},
	})
	if err != nil {
		slog.Error(
			"Bot has failed to deliver a reply.",
			"channel_id", msg.ChannelID,
			"author_id", msg.Author.ID,
			"err", err)
	}
}
