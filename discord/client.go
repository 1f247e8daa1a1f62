// Package discord wraps the discordgo REST client behind the narrow Client
// interface used by the rest of the bot, so workflows can be exercised against
// an in-memory fake.
package discord

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Client is the subset of the Discord API the bot uses.
type Client interface {
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	GuildMembers(ctx context.Context, guildID string) ([]*discordgo.Member, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)

	CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	EditChannel(ctx context.Context, channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	ReorderChannels(ctx context.Context, guildID string, channels []*discordgo.Channel) error
	SetPermission(ctx context.Context, channelID, targetID string, kind discordgo.PermissionOverwriteType, allow, deny int64) error
	DeletePermission(ctx context.Context, channelID, targetID string) error

	CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	SetNickname(ctx context.Context, guildID, userID, nick string) error

	Send(ctx context.Context, channelID, content string) (*discordgo.Message, error)
	SendComplex(ctx context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	// History calls fn for every message after afterID, oldest first. Returning
	// ErrStop from fn ends the walk without error.
	History(ctx context.Context, channelID, afterID string, fn func(*discordgo.Message) error) error
	PinnedMessages(ctx context.Context, channelID string) ([]*discordgo.Message, error)
	PinMessage(ctx context.Context, channelID, messageID string) error
	UnpinMessage(ctx context.Context, channelID, messageID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	StartThread(ctx context.Context, channelID, messageID, name string, archiveMinutes int) (*discordgo.Channel, error)
	UserChannel(ctx context.Context, userID string) (*discordgo.Channel, error)

	SetPresence(kind discordgo.ActivityType, name string) error
}

// ErrStop ends a History walk early.
var ErrStop = errors.New("stop history walk")

const (
	historyPageSize = 100
	memberPageSize  = 1000
	discordEpochMs  = 1420070400000
)

// Session adapts a *discordgo.Session to Client.
type Session struct {
	s *discordgo.Session
}

// NewSession wraps an opened or unopened discordgo session.
func NewSession(s *discordgo.Session) *Session { return &Session{s: s} }

// Raw exposes the underlying session for handler registration.
func (c *Session) Raw() *discordgo.Session { return c.s }

func opts(ctx context.Context, extra ...discordgo.RequestOption) []discordgo.RequestOption {
	return append([]discordgo.RequestOption{discordgo.WithContext(ctx)}, extra...)
}

func (c *Session) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g, err := c.s.State.Guild(guildID); err == nil {
		return g, nil
	}
	return c.s.Guild(guildID, opts(ctx)...)
}

func (c *Session) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return c.s.GuildChannels(guildID, opts(ctx)...)
}

func (c *Session) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return c.s.GuildRoles(guildID, opts(ctx)...)
}

// GuildMembers pages through the whole member list.
func (c *Session) GuildMembers(ctx context.Context, guildID string) ([]*discordgo.Member, error) {
	var (
		out   []*discordgo.Member
		after string
	)
	for {
		page, err := c.s.GuildMembers(guildID, after, memberPageSize, opts(ctx)...)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < memberPageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (c *Session) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return c.s.Channel(channelID, opts(ctx)...)
}

func (c *Session) CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	return c.s.GuildChannelCreateComplex(guildID, data, opts(ctx)...)
}

func (c *Session) EditChannel(ctx context.Context, channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	return c.s.ChannelEdit(channelID, data, opts(ctx)...)
}

func (c *Session) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := c.s.ChannelDelete(channelID, opts(ctx, discordgo.WithAuditLogReason(reason))...)
	return err
}

func (c *Session) ReorderChannels(ctx context.Context, guildID string, channels []*discordgo.Channel) error {
	return c.s.GuildChannelsReorder(guildID, channels, opts(ctx)...)
}

func (c *Session) SetPermission(ctx context.Context, channelID, targetID string, kind discordgo.PermissionOverwriteType, allow, deny int64) error {
	return c.s.ChannelPermissionSet(channelID, targetID, kind, allow, deny, opts(ctx)...)
}

func (c *Session) DeletePermission(ctx context.Context, channelID, targetID string) error {
	return c.s.ChannelPermissionDelete(channelID, targetID, opts(ctx)...)
}

func (c *Session) CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	return c.s.GuildRoleCreate(guildID, params, opts(ctx)...)
}

func (c *Session) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleAdd(guildID, userID, roleID, opts(ctx)...)
}

func (c *Session) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return c.s.GuildMemberRoleRemove(guildID, userID, roleID, opts(ctx, discordgo.WithAuditLogReason(reason))...)
}

func (c *Session) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	return c.s.GuildMemberNickname(guildID, userID, nick, opts(ctx)...)
}

func (c *Session) Send(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return c.s.ChannelMessageSend(channelID, content, opts(ctx)...)
}

func (c *Session) SendComplex(ctx context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	return c.s.ChannelMessageSendComplex(channelID, data, opts(ctx)...)
}

func (c *Session) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return c.s.ChannelMessage(channelID, messageID, opts(ctx)...)
}

func (c *Session) History(ctx context.Context, channelID, afterID string, fn func(*discordgo.Message) error) error {
	if afterID == "" {
		afterID = "0"
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.s.ChannelMessages(channelID, historyPageSize, "", afterID, "", opts(ctx)...)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		SortOldestFirst(page)
		for _, m := range page {
			if err := fn(m); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
		afterID = page[len(page)-1].ID
	}
}

func (c *Session) PinnedMessages(ctx context.Context, channelID string) ([]*discordgo.Message, error) {
	return c.s.ChannelMessagesPinned(channelID, opts(ctx)...)
}

func (c *Session) PinMessage(ctx context.Context, channelID, messageID string) error {
	return c.s.ChannelMessagePin(channelID, messageID, opts(ctx)...)
}

func (c *Session) UnpinMessage(ctx context.Context, channelID, messageID string) error {
	return c.s.ChannelMessageUnpin(channelID, messageID, opts(ctx)...)
}

func (c *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.s.ChannelMessageDelete(channelID, messageID, opts(ctx)...)
}

func (c *Session) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return c.s.MessageReactionAdd(channelID, messageID, emoji, opts(ctx)...)
}

func (c *Session) StartThread(ctx context.Context, channelID, messageID, name string, archiveMinutes int) (*discordgo.Channel, error) {
	return c.s.MessageThreadStart(channelID, messageID, name, archiveMinutes, opts(ctx)...)
}

func (c *Session) UserChannel(ctx context.Context, userID string) (*discordgo.Channel, error) {
	return c.s.UserChannelCreate(userID, opts(ctx)...)
}

func (c *Session) SetPresence(kind discordgo.ActivityType, name string) error {
	switch kind {
	case discordgo.ActivityTypeWatching:
		return c.s.UpdateWatchStatus(0, name)
	default:
		return c.s.UpdateGameStatus(0, name)
	}
}

// SortOldestFirst orders messages by snowflake, which is creation order.
func SortOldestFirst(msgs []*discordgo.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return snowflakeLess(msgs[i].ID, msgs[j].ID) })
}

func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// SnowflakeAt returns the smallest snowflake created at t, for use as a history cursor.
func SnowflakeAt(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMs
	if ms < 0 {
		return "0"
	}
	return strconv.FormatInt(ms<<22, 10)
}

// CreatedAt is the creation time encoded in a snowflake; the zero time when id is malformed.
func CreatedAt(id string) time.Time {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}
	}
	return t
}
