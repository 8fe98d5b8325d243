package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

// Config controls the adapter.
type Config struct {
	Token   string
	GuildID string

	// RequestsPerSec paces every REST call the adapter makes (history
	// pages, member pages, role mutations). Discord's global limit is
	// 50/s; staying well under it keeps the bot out of 429 territory.
	RequestsPerSec int
}

// Adapter implements transport.Client on top of a discordgo session.
type Adapter struct {
	sess    *discordgo.Session
	guildID string
	limiter *rate.Limiter
	log     logx.Logger
}

// New creates the adapter and its gateway session. The session is not
// opened until Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord: token is required")
	}
	if strings.TrimSpace(cfg.GuildID) == "" {
		return nil, errors.New("discord: guild_id is required")
	}
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	return &Adapter{
		sess:    sess,
		guildID: cfg.GuildID,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// Session exposes the underlying session for the command bridge.
func (a *Adapter) Session() *discordgo.Session { return a.sess }

// GuildID returns the guild this adapter is bound to.
func (a *Adapter) GuildID() string { return a.guildID }

func (a *Adapter) Start(ctx context.Context) error {
	_ = ctx
	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.log.Info("gateway connected", logx.String("guild_id", a.guildID))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	return a.sess.Close()
}

// wait paces a REST call; a canceled context aborts the wait.
func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// MessagesBefore implements transport.HistorySource.
func (a *Adapter) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]transport.Message, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	msgs, err := a.sess.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]transport.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Author == nil {
			continue
		}
		out = append(out, transport.Message{
			ID:        m.ID,
			AuthorID:  m.Author.ID,
			Bot:       m.Author.Bot,
			CreatedAt: m.Timestamp,
		})
	}
	return out, nil
}

// RoleHolders implements transport.RoleManager by walking the guild's
// member list in pages of 1000 (the REST maximum).
func (a *Adapter) RoleHolders(ctx context.Context, roleID string) ([]string, error) {
	var holders []string
	after := ""
	for {
		if err := a.wait(ctx); err != nil {
			return nil, err
		}
		members, err := a.sess.GuildMembers(a.guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapErr(err)
		}
		if len(members) == 0 {
			return holders, nil
		}
		for _, m := range members {
			if m == nil || m.User == nil {
				continue
			}
			for _, r := range m.Roles {
				if r == roleID {
					holders = append(holders, m.User.ID)
					break
				}
			}
		}
		after = members[len(members)-1].User.ID
	}
}

func (a *Adapter) GrantRole(ctx context.Context, memberID, roleID string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return mapErr(a.sess.GuildMemberRoleAdd(a.guildID, memberID, roleID, discordgo.WithContext(ctx)))
}

func (a *Adapter) RevokeRole(ctx context.Context, memberID, roleID string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return mapErr(a.sess.GuildMemberRoleRemove(a.guildID, memberID, roleID, discordgo.WithContext(ctx)))
}

func (a *Adapter) ResolveChannel(ctx context.Context, channelID string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	ch, err := a.sess.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	if ch.GuildID != a.guildID {
		return fmt.Errorf("%w: channel %s not in guild", transport.ErrNotFound, channelID)
	}
	return nil
}

func (a *Adapter) ResolveRole(ctx context.Context, roleID string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	roles, err := a.sess.GuildRoles(a.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s", transport.ErrNotFound, roleID)
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, content string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.sess.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return mapErr(err)
}

// SendLogMessage implements logx.Sender. Not paced by the shared
// limiter; a long scan must not starve the log sink.
func (a *Adapter) SendLogMessage(ctx context.Context, channelID, content string) error {
	_, err := a.sess.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

// mapErr turns Discord REST 404s into transport.ErrNotFound so callers
// can distinguish stale references from transient failures.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
	}
	return err
}
