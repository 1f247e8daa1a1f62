// Package bot wires the prefix commands and gateway events of breadbot to the
// sorting, lifecycle, bookmark and username packages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proglangs/breadbot/bookmark"
	"github.com/proglangs/breadbot/config"
	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/lifecycle"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/telemetry"
	"github.com/proglangs/breadbot/usernames"
)

// Store is the persistence the bot needs; db.Store implements it.
type Store interface {
	Guild(ctx context.Context, guildID string) (*db.Guild, error)
	EnsureGuild(ctx context.Context, guildID string) (*db.Guild, error)
	SetGuildSetting(ctx context.Context, guildID string, setting db.Setting, value string) error
	AddProjectCategory(ctx context.Context, guildID, categoryID string) (bool, error)
	RemoveProjectCategory(ctx context.Context, guildID, categoryID string) (bool, error)
	ProjectChannel(ctx context.Context, channelID string) (*db.ProjectChannel, error)
	ProjectChannels(ctx context.Context, guildID string) ([]db.ProjectChannel, error)
	UpsertProjectChannel(ctx context.Context, pc db.ProjectChannel) error
	DeleteProjectChannel(ctx context.Context, channelID string) error
	AddAutoThreadChannel(ctx context.Context, guildID, channelID string) (bool, error)
	RemoveAutoThreadChannel(ctx context.Context, guildID, channelID string) (bool, error)
	IsAutoThreadChannel(ctx context.Context, guildID, channelID string) (bool, error)
}

// GameSource names a game for the bot's presence.
type GameSource interface {
	RandomGame(ctx context.Context) (string, error)
}

const (
	threadArchiveMinutes = 1440
	maxThreadName        = 100
	confirmEmoji         = "👍"
)

type Bot struct {
	cfg       *config.Config
	client    discord.Client
	store     Store
	sorter    *sorting.Sorter
	locks     *sorting.Locks
	lifecycle *lifecycle.Manager
	games     GameSource
	router    *Router
	waiters   *Waiters
	// last name seen per channel id; ChannelUpdate carries only the new state
	names *xsync.Map[string, string]

	// ConfirmTimeout bounds how long delete_channel waits for a 👍.
	ConfirmTimeout time.Duration

	mu        sync.RWMutex
	selfID    string
	connected atomic.Bool
}

// New builds the bot and registers its commands. locks must be shared with
// anything else that sorts the same guilds.
func New(cfg *config.Config, client discord.Client, store Store, locks *sorting.Locks, games GameSource) *Bot {
	sorter := &sorting.Sorter{Client: client, NameFormat: cfg.CategoryNameFormat}
	b := &Bot{
		cfg:    cfg,
		client: client,
		store:  store,
		sorter: sorter,
		locks:  locks,
		lifecycle: &lifecycle.Manager{
			Client:          client,
			Store:           store,
			Sorter:          sorter,
			ArchiveAfter:    cfg.ArchiveAfter,
			DeleteAfter:     cfg.DeleteAfter,
			NewChannelGrace: cfg.NewChannelGrace,
		},
		games:          games,
		router:         NewRouter(cfg.CommandPrefix),
		waiters:        NewWaiters(),
		names:          xsync.NewMap[string, string](),
		ConfirmTimeout: 30 * time.Second,
	}
	b.registerCommands()
	return b
}

// Sorter exposes the sorter the bot uses, for the maintenance job and admin API.
func (b *Bot) Sorter() *sorting.Sorter { return b.sorter }

// Lifecycle exposes the archive/delete manager.
func (b *Bot) Lifecycle() *lifecycle.Manager { return b.lifecycle }

// SetSelf records the bot's own user id once the gateway is ready.
func (b *Bot) SetSelf(userID string) {
	b.mu.Lock()
	b.selfID = userID
	b.mu.Unlock()
}

func (b *Bot) self() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

// Register attaches the gateway event handlers to s. Handlers derive their
// contexts from ctx.
func (b *Bot) Register(ctx context.Context, s *discordgo.Session) {
	for _, h := range b.Handlers(ctx) {
		s.AddHandler(h)
	}
}

// Handlers returns the gateway event handlers in the form
// discordgo.Session.AddHandler accepts.
func (b *Bot) Handlers(ctx context.Context) []any {
	return []any{
		func(_ *discordgo.Session, r *discordgo.Ready) {
			b.HandleReady(ctx, r)
		},
		func(_ *discordgo.Session, _ *discordgo.Resumed) {
			b.setConnected(true)
		},
		func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			b.setConnected(false)
		},
		func(_ *discordgo.Session, g *discordgo.GuildCreate) {
			if g.Guild != nil {
				b.TrackChannels(g.Channels...)
			}
		},
		func(_ *discordgo.Session, c *discordgo.ChannelCreate) {
			b.TrackChannels(c.Channel)
		},
		func(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
			b.ChannelUpdated(ctx, c.Channel)
		},
		func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
			if c.Channel != nil {
				b.names.Delete(c.ID)
			}
		},
		func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			b.HandleMessage(ctx, m.Message)
		},
		func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
			b.HandleMember(ctx, m.Member)
		},
		func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
			b.HandleMember(ctx, m.Member)
		},
		func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
			b.HandleReactionAdd(ctx, r)
		},
	}
}

func (b *Bot) HandleReady(_ context.Context, r *discordgo.Ready) {
	if r.User != nil {
		b.SetSelf(r.User.ID)
		slog.Info("logged in", slog.String("component", "bot"), slog.String("user", r.User.Username))
	}
	b.setConnected(true)
}

func (b *Bot) setConnected(ok bool) {
	b.connected.Store(ok)
	telemetry.SetGatewayConnected(ok)
}

// Connected reports whether the gateway session is up.
func (b *Bot) Connected() bool { return b.connected.Load() }

func (b *Bot) storedGuild(ctx context.Context, guildID string) (*db.Guild, error) {
	g, err := b.store.Guild(ctx, guildID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return g, err
}

// HandleMessage runs a command when the message invokes one. Other messages
// start a thread in autothreading channels and reopen archived channels.
func (b *Bot) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	ctx = telemetry.WithNewCorrelation(ctx)
	if name, rest, ok := b.router.Parse(m.Content); ok {
		b.runCommand(ctx, m, name, rest)
		return
	}
	if m.GuildID == "" {
		return
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("guild", m.GuildID))

	ch, err := b.client.Channel(ctx, m.ChannelID)
	if err != nil {
		logger.Warn("failed to fetch message channel", slog.Any("err", err))
		return
	}
	if ch.Type != discordgo.ChannelTypeGuildText {
		return
	}
	guild, err := b.storedGuild(ctx, m.GuildID)
	if err != nil || guild == nil {
		if err != nil {
			logger.Warn("failed to load guild", slog.Any("err", err))
		}
		return
	}

	if err := b.autothread(ctx, guild, m); err != nil {
		logger.Warn("autothread failed", slog.Any("err", err))
	}
	if guild.ArchiveCategoryID == "" || ch.ParentID != guild.ArchiveCategoryID {
		return
	}
	unlock := b.locks.Lock(guild.ID)
	defer unlock()
	if _, err := b.lifecycle.Unarchive(ctx, guild, ch); err != nil {
		logger.Warn("unarchive failed", slog.String("channel", ch.Name), slog.Any("err", err))
	}
}

// ThreadName derives a thread title from the first line of a message, before
// any code block.
func ThreadName(m *discordgo.Message) string {
	first, _, _ := strings.Cut(m.ContentWithMentionsReplaced(), "\n")
	first, _, _ = strings.Cut(first, "```")
	if r := []rune(first); len(r) > maxThreadName {
		first = string(r[:maxThreadName])
	}
	if first != "" {
		return first
	}
	name := ""
	if m.Author != nil {
		name = m.Author.Username
		if m.Member != nil && m.Member.Nick != "" {
			name = m.Member.Nick
		} else if m.Author.GlobalName != "" {
			name = m.Author.GlobalName
		}
	}
	return name + " discussion thread"
}

func (b *Bot) autothread(ctx context.Context, guild *db.Guild, m *discordgo.Message) error {
	on, err := b.store.IsAutoThreadChannel(ctx, guild.ID, m.ChannelID)
	if err != nil || !on {
		return err
	}
	th, err := b.client.StartThread(ctx, m.ChannelID, m.ID, ThreadName(m), threadArchiveMinutes)
	if err != nil {
		return fmt.Errorf("start thread: %w", err)
	}
	p := b.cfg.CommandPrefix
	_, err = b.client.Send(ctx, th.ID, fmt.Sprintf(
		"If you're the OP, send `%srename_thread <new name>` to rename this thread, or `%sarchive_thread` to archive it.", p, p))
	return err
}

func (b *Bot) runCommand(ctx context.Context, m *discordgo.Message, name, rest string) {
	c := &Context{bot: b, Message: m, Name: name, Rest: rest, Args: SplitArgs(rest)}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("command", name))

	cmd, ok := b.router.Lookup(name)
	if !ok {
		b.replyError(ctx, c, fmt.Errorf("Command %q is not found", name))
		return
	}
	ctx, span := telemetry.StartSpan(ctx, "bot", "command "+cmd.Name,
		telemetry.CommandAttr(cmd.Name), telemetry.GuildAttr(m.GuildID), telemetry.ChannelAttr(m.ChannelID))
	defer span.End()
	telemetry.CommandInvoked(cmd.Name)

	err := func() error {
		for _, check := range cmd.Checks {
			if err := check(ctx, c); err != nil {
				return err
			}
		}
		return cmd.Run(ctx, c)
	}()
	if err != nil {
		telemetry.CommandFailed(cmd.Name)
		telemetry.RecordError(span, err)
		logger.Info("command failed", slog.String("author", m.Author.ID), slog.Any("err", err))
		b.replyError(ctx, c, err)
		return
	}
	telemetry.SetSpanSuccess(span)
	logger.Debug("command ok", slog.String("author", m.Author.ID))
}

func (b *Bot) replyError(ctx context.Context, c *Context, err error) {
	if rerr := c.Reply(ctx, err.Error()); rerr != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to reply with error", slog.Any("err", rerr))
	}
}

// HandleMember normalises a joining or updated member's display name.
func (b *Bot) HandleMember(ctx context.Context, m *discordgo.Member) {
	if m == nil || m.User == nil || m.User.Bot {
		return
	}
	logChannel := ""
	if g, err := b.storedGuild(ctx, m.GuildID); err == nil && g != nil {
		logChannel = g.LogChannelID
	}
	if _, err := usernames.MaybeNormalize(ctx, b.client, m, logChannel); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to normalise nickname",
			slog.String("component", "bot"), slog.String("user", m.User.ID), slog.Any("err", err))
	}
}

// TrackChannels records the current names of channels.
func (b *Bot) TrackChannels(channels ...*discordgo.Channel) {
	for _, c := range channels {
		if c != nil {
			b.names.Store(c.ID, c.Name)
		}
	}
}

// ChannelUpdated compares ch with the last name recorded for it and handles
// a rename. Channels never seen before are only recorded.
func (b *Bot) ChannelUpdated(ctx context.Context, ch *discordgo.Channel) {
	if ch == nil {
		return
	}
	prev, seen := b.names.LoadAndStore(ch.ID, ch.Name)
	if !seen || prev == ch.Name {
		return
	}
	before := *ch
	before.Name = prev
	b.HandleChannelUpdate(ctx, &before, ch)
}

// HandleChannelUpdate repositions a project channel after it was renamed.
func (b *Bot) HandleChannelUpdate(ctx context.Context, before, after *discordgo.Channel) {
	if before == nil || after == nil || after.Type != discordgo.ChannelTypeGuildText || before.Name == after.Name {
		return
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("guild", after.GuildID))
	guild, err := b.storedGuild(ctx, after.GuildID)
	if err != nil || guild == nil {
		return
	}
	inProject := false
	for _, id := range guild.ProjectCategories {
		if after.ParentID == id {
			inProject = true
		}
	}
	if !inProject {
		return
	}
	if guild.LogChannelID != "" {
		msg := fmt.Sprintf("Channel %s was renamed: %s -> %s", discord.ChannelMention(after.ID), before.Name, after.Name)
		if _, err := b.client.Send(ctx, guild.LogChannelID, msg); err != nil {
			logger.Warn("failed to log rename", slog.Any("err", err))
		}
	}
	unlock := b.locks.Lock(guild.ID)
	defer unlock()
	if err := b.sorter.Reposition(ctx, guild, after.ID); err != nil {
		logger.Warn("reposition after rename failed", slog.Any("err", err))
	}
}

// HandleReactionAdd wakes confirmation waits and serves bookmark reactions.
func (b *Bot) HandleReactionAdd(ctx context.Context, r *discordgo.MessageReactionAdd) {
	if r == nil || r.MessageReaction == nil {
		return
	}
	if b.waiters.Dispatch(r.MessageReaction) {
		return
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bookmark"))
	if err := bookmark.Serve(ctx, b.client, r); err != nil {
		logger.Warn("failed to serve bookmark", slog.Any("err", err))
	}
	if err := bookmark.MaybeDelete(ctx, b.client, b.self(), r); err != nil {
		logger.Warn("failed to delete bookmark", slog.Any("err", err))
	}
}
