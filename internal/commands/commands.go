// Package commands binds the bot's slash commands to the leaderboard
// service. It is a thin translation layer: argument extraction,
// permission gating and reply formatting live here, the semantics live
// in internal/leaderboard.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"rankbot/internal/leaderboard"
	"rankbot/internal/transport/discord"
	logx "rankbot/pkg/logx"
)

const (
	cmdSetup  = "setup-auto-leaderboard"
	cmdTest   = "test-leaderboard"
	cmdTimer  = "leaderboard-timer"
	cmdStats  = "stats"
	cmdBye    = "shutdown"
	runTimeout = 5 * time.Minute
)

type Handler struct {
	log     logx.Logger
	svc     *leaderboard.Service
	adapter *discord.Adapter
	owners  []string

	// requestStop asks the app for a graceful shutdown (owner command).
	requestStop func()

	remove func()
}

func New(svc *leaderboard.Service, adapter *discord.Adapter, owners []string, requestStop func(), log logx.Logger) *Handler {
	return &Handler{
		log:         log.With(logx.String("component", "commands")),
		svc:         svc,
		adapter:     adapter,
		owners:      owners,
		requestStop: requestStop,
	}
}

// Register overwrites the guild's command set and installs the
// interaction handler. Call after the gateway session is open.
func (h *Handler) Register(ctx context.Context) error {
	_ = ctx
	sess := h.adapter.Session()
	appID := sess.State.User.ID

	adminOnly := int64(discordgo.PermissionAdministrator)
	minTop := float64(1)

	defs := []*discordgo.ApplicationCommand{
		{
			Name:                     cmdSetup,
			Description:              "Sets up the automated weekly leaderboard system.",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel where the weekly leaderboard message is posted.",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "from_channel",
					Description: "Channel to count messages from.",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to clear and grant to the top members.",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "top",
					Description: "Number of top users to award (1 or more).",
					Required:    true,
					MinValue:    &minTop,
				},
			},
		},
		{
			Name:                     cmdTest,
			Description:              "Runs the leaderboard update immediately.",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        cmdTimer,
			Description: "Shows the time remaining until the next scheduled update.",
		},
		{
			Name:        cmdStats,
			Description: "Shows message statistics for the last 7 days.",
		},
		{
			Name:                     cmdBye,
			Description:              "Shuts down the bot (owner only).",
			DefaultMemberPermissions: &adminOnly,
		},
	}

	if _, err := sess.ApplicationCommandBulkOverwrite(appID, h.adapter.GuildID(), defs); err != nil {
		return fmt.Errorf("commands: register: %w", err)
	}

	h.remove = sess.AddHandler(h.onInteraction)
	h.log.Info("slash commands registered", logx.Int("count", len(defs)))
	return nil
}

// Close detaches the interaction handler.
func (h *Handler) Close() {
	if h.remove != nil {
		h.remove()
		h.remove = nil
	}
}

func (h *Handler) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	log := h.log.With(logx.String("command", name), logx.String("user_id", interactionUserID(i)))

	switch name {
	case cmdSetup:
		h.handleSetup(s, i, log)
	case cmdTest:
		h.handleTest(s, i, log)
	case cmdTimer:
		h.handleTimer(s, i, log)
	case cmdStats:
		h.handleStats(s, i, log)
	case cmdBye:
		h.handleShutdown(s, i, log)
	}
}

func (h *Handler) handleSetup(s *discordgo.Session, i *discordgo.InteractionCreate, log logx.Logger) {
	if !isAdmin(i) {
		replyEphemeral(s, i, "You must be an administrator to use this command.")
		return
	}

	var set leaderboard.Settings
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "channel":
			if ch := opt.ChannelValue(s); ch != nil {
				if ch.Type != discordgo.ChannelTypeGuildText {
					replyEphemeral(s, i, "Both channels must be text channels.")
					return
				}
				set.DestChannelID = ch.ID
			}
		case "from_channel":
			if ch := opt.ChannelValue(s); ch != nil {
				if ch.Type != discordgo.ChannelTypeGuildText {
					replyEphemeral(s, i, "Both channels must be text channels.")
					return
				}
				set.SourceChannelID = ch.ID
			}
		case "role":
			if r := opt.RoleValue(s, h.adapter.GuildID()); r != nil {
				set.RoleID = r.ID
			}
		case "top":
			set.TopN = int(opt.IntValue())
		}
	}

	deferReply(s, i, true)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	next, err := h.svc.Setup(ctx, set)
	if err != nil {
		log.Warn("setup failed", logx.Err(err))
		editReply(s, i, "Setup failed: "+err.Error())
		return
	}
	editReply(s, i, fmt.Sprintf(`✅ Leaderboard setup complete!
- Leaderboard Channel: <#%s>
- Messages Counted From: <#%s>
- Top Users: %d
- Role to Grant: <@&%s>
- Next Scheduled Update: **%s**`,
		set.DestChannelID, set.SourceChannelID, set.TopN, set.RoleID,
		next.UTC().Format(time.RFC1123)))
}

func (h *Handler) handleTest(s *discordgo.Session, i *discordgo.InteractionCreate, log logx.Logger) {
	if !isAdmin(i) {
		replyEphemeral(s, i, "You must be an administrator to use this command.")
		return
	}

	deferReply(s, i, false)
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	res, err := h.svc.TriggerManualRun(ctx)
	switch {
	case errors.Is(err, leaderboard.ErrNotConfigured):
		editReply(s, i, "The auto-leaderboard is not yet set up. Please use `/setup-auto-leaderboard` first.")
	case errors.Is(err, leaderboard.ErrRunInProgress):
		editReply(s, i, "A leaderboard run is already in progress. Try again in a bit.")
	case err != nil:
		log.Warn("manual run failed", logx.Err(err))
		editReply(s, i, "The leaderboard run failed: "+err.Error())
	default:
		editReply(s, i, formatRunSummary(res))
	}
}

func (h *Handler) handleTimer(s *discordgo.Session, i *discordgo.InteractionCreate, log logx.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remaining, next, err := h.svc.TimeUntilNextRun(ctx)
	if errors.Is(err, leaderboard.ErrNotConfigured) {
		replyEphemeral(s, i, "The auto-leaderboard is not yet set up.")
		return
	}
	if err != nil {
		log.Warn("timer read failed", logx.Err(err))
		replyEphemeral(s, i, "Could not read the schedule: "+err.Error())
		return
	}

	d := remaining.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	reply(s, i, fmt.Sprintf(
		"⏳ The next automated leaderboard update is scheduled for **%s**.\n(In **%d** days, **%d** hours, **%d** minutes, and **%d** seconds).",
		next.UTC().Format(time.RFC1123), days, hours, minutes, seconds))
}

func (h *Handler) handleStats(s *discordgo.Session, i *discordgo.InteractionCreate, log logx.Logger) {
	deferReply(s, i, true)
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	st, err := h.svc.WeeklyStats(ctx)
	switch {
	case errors.Is(err, leaderboard.ErrNotConfigured):
		editReply(s, i, "The auto-leaderboard is not yet set up. Please use `/setup-auto-leaderboard` first.")
		return
	case errors.Is(err, leaderboard.ErrRunInProgress):
		editReply(s, i, "A leaderboard run is in progress; stats are unavailable until it finishes.")
		return
	case err != nil:
		log.Warn("stats failed", logx.Err(err))
		editReply(s, i, "An error occurred while fetching stats: "+err.Error())
		return
	}

	msg, err := h.svc.FormatStats(ctx, st)
	if err != nil {
		editReply(s, i, "An error occurred while fetching stats: "+err.Error())
		return
	}
	editReply(s, i, msg)
}

func (h *Handler) handleShutdown(s *discordgo.Session, i *discordgo.InteractionCreate, log logx.Logger) {
	uid := interactionUserID(i)
	if !h.isOwner(uid) {
		replyEphemeral(s, i, "🚫 Permission denied. Only the designated owner can use this command.")
		return
	}
	reply(s, i, "👋 Shutting down. Goodbye!")
	log.Info("shutdown requested")
	if h.requestStop != nil {
		h.requestStop()
	}
}

func (h *Handler) isOwner(userID string) bool {
	for _, id := range h.owners {
		if id == userID {
			return true
		}
	}
	return false
}

func formatRunSummary(res *leaderboard.RunResult) string {
	msg := fmt.Sprintf("✅ Leaderboard run complete: %d winner(s), %d message(s) counted, %d revoked, %d granted.",
		len(res.Winners), res.TotalMessages, len(res.Sync.Revoked), len(res.Sync.Granted))
	if res.TimedOut {
		msg += "\n⚠️ The scan hit its cap; counts may be incomplete."
	}
	if n := len(res.Sync.Errors); n > 0 {
		msg += fmt.Sprintf("\n⚠️ %d role update(s) failed:", n)
		for _, e := range res.Sync.Errors {
			msg += fmt.Sprintf("\n- <@%s> (%s): %s", e.MemberID, e.Op, e.Reason)
		}
	}
	msg += fmt.Sprintf("\nNext scheduled update: **%s**.", res.NextFire.UTC().Format(time.RFC1123))
	return msg
}

// ---- interaction reply helpers ----

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}

func replyEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

func editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, _ = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
}
