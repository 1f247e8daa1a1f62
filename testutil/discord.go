package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/discord"
)

// SentMessage records one message the bot sent through FakeDiscord.
type SentMessage struct {
	ChannelID string
	MessageID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Files     map[string]string
	Reference *discordgo.MessageReference
}

// Reaction records one reaction the bot added.
type Reaction struct {
	ChannelID, MessageID, Emoji string
}

// FakeDiscord is an in-memory discord.Client. Lists returned from it are
// copies, so callers may mutate them freely.
type FakeDiscord struct {
	mu sync.Mutex

	BotUser *discordgo.User
	Now     func() time.Time

	guilds   map[string]*discordgo.Guild
	channels []*discordgo.Channel
	roles    map[string][]*discordgo.Role
	members  map[string][]*discordgo.Member
	messages map[string][]*discordgo.Message

	Sent      []SentMessage
	Reactions []Reaction
	Deleted   []string
	Reorders  [][]*discordgo.Channel
	Edits     []string
	Presence  string
	seq       int64

	// FailOn makes the named method return the error.
	FailOn map[string]error
}

var _ discord.Client = (*FakeDiscord)(nil)

// NewFakeDiscord returns an empty fake with a bot user.
func NewFakeDiscord() *FakeDiscord {
	return &FakeDiscord{
		BotUser:  &discordgo.User{ID: "9000", Username: "breadbot", Bot: true},
		Now:      time.Now,
		guilds:   map[string]*discordgo.Guild{},
		roles:    map[string][]*discordgo.Role{},
		members:  map[string][]*discordgo.Member{},
		messages: map[string][]*discordgo.Message{},
		FailOn:   map[string]error{},
	}
}

func (f *FakeDiscord) fail(method string) error {
	if err, ok := f.FailOn[method]; ok {
		return err
	}
	return nil
}

// snowflake returns a unique id encoding t.
func (f *FakeDiscord) snowflake(t time.Time) string {
	base, _ := strconv.ParseInt(discord.SnowflakeAt(t), 10, 64)
	f.seq++
	return strconv.FormatInt(base+f.seq, 10)
}

// AddGuild registers a guild with its @everyone role.
func (f *FakeDiscord) AddGuild(id, ownerID string) *discordgo.Guild {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &discordgo.Guild{ID: id, Name: "guild " + id, OwnerID: ownerID}
	f.guilds[id] = g
	f.roles[id] = append(f.roles[id], &discordgo.Role{ID: id, Name: "@everyone"})
	return g
}

// AddRole adds a role to a guild.
func (f *FakeDiscord) AddRole(guildID, name string, perms int64) *discordgo.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &discordgo.Role{ID: f.snowflake(f.Now()), Name: name, Permissions: perms}
	f.roles[guildID] = append(f.roles[guildID], r)
	return r
}

// AddMember adds a member to a guild.
func (f *FakeDiscord) AddMember(guildID string, user *discordgo.User, nick string, roles ...string) *discordgo.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &discordgo.Member{GuildID: guildID, User: user, Nick: nick, Roles: roles}
	f.members[guildID] = append(f.members[guildID], m)
	return m
}

// AddCategory adds a category channel.
func (f *FakeDiscord) AddCategory(guildID, name string, position int) *discordgo.Channel {
	return f.addChannel(&discordgo.Channel{GuildID: guildID, Name: name, Type: discordgo.ChannelTypeGuildCategory, Position: position}, f.Now())
}

// AddText adds a text channel created at the given time.
func (f *FakeDiscord) AddText(guildID, parentID, name string, position int, created time.Time) *discordgo.Channel {
	return f.addChannel(&discordgo.Channel{GuildID: guildID, ParentID: parentID, Name: name, Type: discordgo.ChannelTypeGuildText, Position: position}, created)
}

func (f *FakeDiscord) addChannel(c *discordgo.Channel, created time.Time) *discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.snowflake(created)
	f.channels = append(f.channels, c)
	return c
}

// AddMessage appends a message to a channel's history.
func (f *FakeDiscord) AddMessage(channelID string, author *discordgo.User, content string, at time.Time) *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendMessage(channelID, author, content, at)
}

func (f *FakeDiscord) appendMessage(channelID string, author *discordgo.User, content string, at time.Time) *discordgo.Message {
	m := &discordgo.Message{ID: f.snowflake(at), ChannelID: channelID, Author: author, Content: content, Timestamp: at}
	if c := f.channelLocked(channelID); c != nil {
		m.GuildID = c.GuildID
	}
	f.messages[channelID] = append(f.messages[channelID], m)
	discord.SortOldestFirst(f.messages[channelID])
	return m
}

func (f *FakeDiscord) channelLocked(id string) *discordgo.Channel {
	for _, c := range f.channels {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func copyChannel(c *discordgo.Channel) *discordgo.Channel {
	cp := *c
	cp.PermissionOverwrites = make([]*discordgo.PermissionOverwrite, len(c.PermissionOverwrites))
	for i, o := range c.PermissionOverwrites {
		oc := *o
		cp.PermissionOverwrites[i] = &oc
	}
	return &cp
}

// Lookup returns a copy of the channel with id, or nil.
func (f *FakeDiscord) Lookup(id string) *discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.channelLocked(id); c != nil {
		return copyChannel(c)
	}
	return nil
}

// Member returns a copy of the member, or nil.
func (f *FakeDiscord) Member(guildID, userID string) *discordgo.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[guildID] {
		if m.User.ID == userID {
			cp := *m
			cp.Roles = slices.Clone(m.Roles)
			return &cp
		}
	}
	return nil
}

// SentTo returns the messages sent to a channel, in order.
func (f *FakeDiscord) SentTo(channelID string) []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SentMessage
	for _, s := range f.Sent {
		if s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// ContentsTo returns the text of the messages sent to a channel.
func (f *FakeDiscord) ContentsTo(channelID string) []string {
	var out []string
	for _, s := range f.SentTo(channelID) {
		out = append(out, s.Content)
	}
	return out
}

func (f *FakeDiscord) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Guild"); err != nil {
		return nil, err
	}
	g, ok := f.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild %s", guildID)
	}
	cp := *g
	return &cp, nil
}

func (f *FakeDiscord) GuildChannels(_ context.Context, guildID string) ([]*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildChannels"); err != nil {
		return nil, err
	}
	var out []*discordgo.Channel
	for _, c := range f.channels {
		if c.GuildID == guildID {
			out = append(out, copyChannel(c))
		}
	}
	return out, nil
}

func (f *FakeDiscord) GuildRoles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildRoles"); err != nil {
		return nil, err
	}
	out := make([]*discordgo.Role, 0, len(f.roles[guildID]))
	for _, r := range f.roles[guildID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeDiscord) GuildMembers(_ context.Context, guildID string) ([]*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GuildMembers"); err != nil {
		return nil, err
	}
	out := make([]*discordgo.Member, 0, len(f.members[guildID]))
	for _, m := range f.members[guildID] {
		cp := *m
		cp.Roles = slices.Clone(m.Roles)
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FakeDiscord) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Channel"); err != nil {
		return nil, err
	}
	c := f.channelLocked(channelID)
	if c == nil {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return copyChannel(c), nil
}

func (f *FakeDiscord) CreateChannel(_ context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateChannel"); err != nil {
		return nil, err
	}
	pos := 0
	for _, c := range f.channels {
		if c.GuildID == guildID && c.Position >= pos {
			pos = c.Position + 1
		}
	}
	c := &discordgo.Channel{
		ID:                   f.snowflake(f.Now()),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		Topic:                data.Topic,
		ParentID:             data.ParentID,
		Position:             pos,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	f.channels = append(f.channels, c)
	return copyChannel(c), nil
}

func (f *FakeDiscord) EditChannel(_ context.Context, channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("EditChannel"); err != nil {
		return nil, err
	}
	c := f.channelLocked(channelID)
	if c == nil {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	if data.Name != "" {
		c.Name = data.Name
	}
	if data.ParentID != "" {
		c.ParentID = data.ParentID
	}
	if data.Position != nil {
		c.Position = *data.Position
	}
	if data.Archived != nil {
		if c.ThreadMetadata == nil {
			c.ThreadMetadata = &discordgo.ThreadMetadata{}
		}
		c.ThreadMetadata.Archived = *data.Archived
	}
	f.Edits = append(f.Edits, channelID)
	return copyChannel(c), nil
}

func (f *FakeDiscord) DeleteChannel(_ context.Context, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteChannel"); err != nil {
		return err
	}
	i := slices.IndexFunc(f.channels, func(c *discordgo.Channel) bool { return c.ID == channelID })
	if i < 0 {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	f.channels = slices.Delete(f.channels, i, i+1)
	f.Deleted = append(f.Deleted, channelID)
	return nil
}

func (f *FakeDiscord) ReorderChannels(_ context.Context, _ string, channels []*discordgo.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ReorderChannels"); err != nil {
		return err
	}
	batch := make([]*discordgo.Channel, 0, len(channels))
	for _, in := range channels {
		if c := f.channelLocked(in.ID); c != nil {
			c.Position = in.Position
		}
		batch = append(batch, &discordgo.Channel{ID: in.ID, Position: in.Position})
	}
	f.Reorders = append(f.Reorders, batch)
	return nil
}

func (f *FakeDiscord) SetPermission(_ context.Context, channelID, targetID string, kind discordgo.PermissionOverwriteType, allow, deny int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetPermission"); err != nil {
		return err
	}
	c := f.channelLocked(channelID)
	if c == nil {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	for _, o := range c.PermissionOverwrites {
		if o.ID == targetID {
			o.Type, o.Allow, o.Deny = kind, allow, deny
			return nil
		}
	}
	c.PermissionOverwrites = append(c.PermissionOverwrites, &discordgo.PermissionOverwrite{ID: targetID, Type: kind, Allow: allow, Deny: deny})
	return nil
}

func (f *FakeDiscord) DeletePermission(_ context.Context, channelID, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeletePermission"); err != nil {
		return err
	}
	c := f.channelLocked(channelID)
	if c == nil {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	c.PermissionOverwrites = slices.DeleteFunc(c.PermissionOverwrites, func(o *discordgo.PermissionOverwrite) bool { return o.ID == targetID })
	return nil
}

func (f *FakeDiscord) CreateRole(_ context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateRole"); err != nil {
		return nil, err
	}
	r := &discordgo.Role{ID: f.snowflake(f.Now()), Name: params.Name}
	if params.Mentionable != nil {
		r.Mentionable = *params.Mentionable
	}
	f.roles[guildID] = append(f.roles[guildID], r)
	cp := *r
	return &cp, nil
}

func (f *FakeDiscord) memberLocked(guildID, userID string) (*discordgo.Member, error) {
	for _, m := range f.members[guildID] {
		if m.User.ID == userID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown member %s", userID)
}

func (f *FakeDiscord) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddMemberRole"); err != nil {
		return err
	}
	m, err := f.memberLocked(guildID, userID)
	if err != nil {
		return err
	}
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (f *FakeDiscord) RemoveMemberRole(_ context.Context, guildID, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RemoveMemberRole"); err != nil {
		return err
	}
	m, err := f.memberLocked(guildID, userID)
	if err != nil {
		return err
	}
	m.Roles = slices.DeleteFunc(m.Roles, func(r string) bool { return r == roleID })
	return nil
}

func (f *FakeDiscord) SetNickname(_ context.Context, guildID, userID, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetNickname"); err != nil {
		return err
	}
	m, err := f.memberLocked(guildID, userID)
	if err != nil {
		return err
	}
	m.Nick = nick
	return nil
}

func (f *FakeDiscord) Send(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return f.SendComplex(ctx, channelID, &discordgo.MessageSend{Content: content})
}

func (f *FakeDiscord) SendComplex(_ context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Send"); err != nil {
		return nil, err
	}
	files := map[string]string{}
	for _, file := range data.Files {
		b, err := io.ReadAll(file.Reader)
		if err != nil {
			return nil, err
		}
		files[file.Name] = string(b)
	}
	m := f.appendMessage(channelID, f.BotUser, data.Content, f.Now())
	m.Embeds = data.Embeds
	f.Sent = append(f.Sent, SentMessage{
		ChannelID: channelID,
		MessageID: m.ID,
		Content:   data.Content,
		Embeds:    data.Embeds,
		Files:     files,
		Reference: data.Reference,
	})
	cp := *m
	return &cp, nil
}

func (f *FakeDiscord) findMessage(channelID, messageID string) (*discordgo.Message, int) {
	for i, m := range f.messages[channelID] {
		if m.ID == messageID {
			return m, i
		}
	}
	return nil, -1
}

func (f *FakeDiscord) Message(_ context.Context, channelID, messageID string) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Message"); err != nil {
		return nil, err
	}
	m, _ := f.findMessage(channelID, messageID)
	if m == nil {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	cp := *m
	return &cp, nil
}

func (f *FakeDiscord) History(ctx context.Context, channelID, afterID string, fn func(*discordgo.Message) error) error {
	f.mu.Lock()
	if err := f.fail("History"); err != nil {
		f.mu.Unlock()
		return err
	}
	after, _ := strconv.ParseInt(afterID, 10, 64)
	var msgs []*discordgo.Message
	for _, m := range f.messages[channelID] {
		if id, _ := strconv.ParseInt(m.ID, 10, 64); id > after {
			cp := *m
			msgs = append(msgs, &cp)
		}
	}
	f.mu.Unlock()

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			if errors.Is(err, discord.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (f *FakeDiscord) PinnedMessages(_ context.Context, channelID string) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("PinnedMessages"); err != nil {
		return nil, err
	}
	var out []*discordgo.Message
	for _, m := range f.messages[channelID] {
		if m.Pinned {
			cp := *m
			out = append(out, &cp)
		}
	}
	// newest pin first, as the API returns them
	slices.Reverse(out)
	return out, nil
}

func (f *FakeDiscord) setPinned(channelID, messageID string, pinned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := f.findMessage(channelID, messageID)
	if m == nil {
		return fmt.Errorf("unknown message %s", messageID)
	}
	m.Pinned = pinned
	return nil
}

func (f *FakeDiscord) PinMessage(_ context.Context, channelID, messageID string) error {
	return f.setPinned(channelID, messageID, true)
}

func (f *FakeDiscord) UnpinMessage(_ context.Context, channelID, messageID string) error {
	return f.setPinned(channelID, messageID, false)
}

func (f *FakeDiscord) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteMessage"); err != nil {
		return err
	}
	_, i := f.findMessage(channelID, messageID)
	if i < 0 {
		return fmt.Errorf("unknown message %s", messageID)
	}
	f.messages[channelID] = slices.Delete(f.messages[channelID], i, i+1)
	return nil
}

// HasMessage reports whether the message still exists.
func (f *FakeDiscord) HasMessage(channelID, messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := f.findMessage(channelID, messageID)
	return m != nil
}

func (f *FakeDiscord) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddReaction"); err != nil {
		return err
	}
	f.Reactions = append(f.Reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *FakeDiscord) StartThread(_ context.Context, channelID, messageID, name string, _ int) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("StartThread"); err != nil {
		return nil, err
	}
	parent := f.channelLocked(channelID)
	if parent == nil {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	owner := ""
	if m, _ := f.findMessage(channelID, messageID); m != nil && m.Author != nil {
		owner = m.Author.ID
	}
	th := &discordgo.Channel{
		ID:             f.snowflake(f.Now()),
		GuildID:        parent.GuildID,
		ParentID:       channelID,
		Name:           name,
		Type:           discordgo.ChannelTypeGuildPublicThread,
		OwnerID:        owner,
		ThreadMetadata: &discordgo.ThreadMetadata{},
	}
	f.channels = append(f.channels, th)
	return copyChannel(th), nil
}

func (f *FakeDiscord) UserChannel(_ context.Context, userID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UserChannel"); err != nil {
		return nil, err
	}
	id := "dm-" + userID
	if c := f.channelLocked(id); c != nil {
		return copyChannel(c), nil
	}
	c := &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM, Recipients: []*discordgo.User{{ID: userID}}}
	f.channels = append(f.channels, c)
	return copyChannel(c), nil
}

func (f *FakeDiscord) SetPresence(kind discordgo.ActivityType, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetPresence"); err != nil {
		return err
	}
	prefix := "playing "
	if kind == discordgo.ActivityTypeWatching {
		prefix = "watching "
	}
	f.Presence = prefix + name
	return nil
}

// CurrentPresence reads Presence under the fake's lock.
func (f *FakeDiscord) CurrentPresence() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Presence
}
