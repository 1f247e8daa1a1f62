package bot

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proglangs/breadbot/config"
	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/testutil"
)

const day = 24 * time.Hour

type stubGames struct{ name string }

func (s stubGames) RandomGame(context.Context) (string, error) { return s.name, nil }

var (
	boss  = &discordgo.User{ID: "owner", Username: "boss"}
	human = &discordgo.User{ID: "50", Username: "human"}
	other = &discordgo.User{ID: "60", Username: "other"}
)

type env struct {
	fake       *testutil.FakeDiscord
	store      *testutil.MemStore
	bot        *Bot
	projects   *discordgo.Channel
	archiveCat *discordgo.Channel
	archiveCh  *discordgo.Channel
	logCh      *discordgo.Channel
	general    *discordgo.Channel
	ownerRole  *discordgo.Role
	hidden     *discordgo.Role
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{fake: testutil.NewFakeDiscord(), store: testutil.NewMemStore()}
	old := time.Now().Add(-400 * day)
	e.fake.AddGuild("1", boss.ID)
	e.projects = e.fake.AddCategory("1", "Projects A-Z", 0)
	e.archiveCat = e.fake.AddCategory("1", "Archive", 1)
	e.archiveCh = e.fake.AddText("1", "", "archive", 0, old)
	e.logCh = e.fake.AddText("1", "", "log", 1, old)
	e.general = e.fake.AddText("1", "", "general", 2, old)
	e.ownerRole = e.fake.AddRole("1", "Channel Owner", 0)
	e.hidden = e.fake.AddRole("1", "Channel Bot", 0)
	e.fake.AddMember("1", boss, "")
	e.fake.AddMember("1", human, "")
	e.fake.AddMember("1", other, "")

	_, err := e.store.EnsureGuild(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, e.store.SetGuildSetting(ctx, "1", db.SettingLogChannel, e.logCh.ID))
	require.NoError(t, e.store.SetGuildSetting(ctx, "1", db.SettingArchiveCategory, e.archiveCat.ID))
	require.NoError(t, e.store.SetGuildSetting(ctx, "1", db.SettingArchiveChannel, e.archiveCh.ID))
	require.NoError(t, e.store.SetGuildSetting(ctx, "1", db.SettingChannelOwnerRole, e.ownerRole.ID))
	_, err = e.store.AddProjectCategory(ctx, "1", e.projects.ID)
	require.NoError(t, err)

	cfg := &config.Config{
		CommandPrefix:      "./",
		ArchiveAfter:       90 * day,
		DeleteAfter:        180 * day,
		NewChannelGrace:    30 * day,
		CategoryNameFormat: "Projects %s-%s",
		HiddenRoleNames:    []string{"Channel Bot"},
		MutedRoleNames:     []string{"muted"},
		ProjectRolePrefix:  "lang: ",
		LangBotUserID:      "777",
	}
	e.bot = New(cfg, e.fake, e.store, sorting.NewLocks(), stubGames{name: "Celeste"})
	e.bot.SetSelf(e.fake.BotUser.ID)
	return e
}

// project adds a registered project channel owned by a fresh role.
func (e *env) project(t *testing.T, parent *discordgo.Channel, name string, pos int) (*discordgo.Channel, *discordgo.Role) {
	t.Helper()
	c := e.fake.AddText("1", parent.ID, name, pos, time.Now().Add(-200*day))
	r := e.fake.AddRole("1", "lang: "+name, 0)
	require.NoError(t, e.store.UpsertProjectChannel(context.Background(), db.ProjectChannel{ID: c.ID, GuildID: "1", OwnerRoleID: r.ID}))
	return c, r
}

// say delivers a message from author to the bot as the gateway would.
func (e *env) say(channelID string, author *discordgo.User, content string, roles ...string) *discordgo.Message {
	m := e.fake.AddMessage(channelID, author, content, time.Now())
	m.Member = &discordgo.Member{Roles: roles}
	e.bot.HandleMessage(context.Background(), m)
	return m
}

func (e *env) last(channelID string) string {
	sent := e.fake.ContentsTo(channelID)
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1]
}

func (e *env) childNames(t *testing.T, cat *discordgo.Channel) []string {
	t.Helper()
	channels, err := e.fake.GuildChannels(context.Background(), "1")
	require.NoError(t, err)
	var names []string
	for _, c := range discord.Children(channels, cat.ID) {
		names = append(names, c.Name)
	}
	return names
}

func TestRouterParse(t *testing.T) {
	r := NewRouter("./")
	tests := []struct {
		in   string
		name string
		rest string
		ok   bool
	}{
		{"./sort", "sort", "", true},
		{"./make_channel <@1>  rust ", "make_channel", "<@1>  rust", true},
		{"./", "", "", false},
		{"./ sort", "", "", false},
		{"hello ./sort", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, rest, ok := r.Parse(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.name, name)
				assert.Equal(t, tt.rest, rest)
			}
		})
	}
}

func TestRouterRejectsDuplicates(t *testing.T) {
	r := NewRouter("!")
	r.Add(&Command{Name: "goto", Aliases: []string{"portal"}})
	assert.Panics(t, func() { r.Add(&Command{Name: "portal"}) })
	cmd, ok := r.Lookup("portal")
	require.True(t, ok)
	assert.Equal(t, "goto", cmd.Name)
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitArgs("  a   b "))
	assert.Equal(t, []string{"Projects A-Z", "extra"}, SplitArgs(`"Projects A-Z" extra`))
	assert.Equal(t, []string{""}, SplitArgs(`""`))
	assert.Nil(t, SplitArgs(""))
}

func TestThreadName(t *testing.T) {
	long := strings.Repeat("é", 120)
	tests := []struct {
		name    string
		content string
		nick    string
		want    string
	}{
		{"first line", "How do closures work?\nsome detail", "", "How do closures work?"},
		{"code block", "look at this```go\nfunc main() {}\n```", "", "look at this"},
		{"only code", "```\nx\n```", "", "human discussion thread"},
		{"nickname fallback", "", "Hum", "Hum discussion thread"},
		{"truncated", long, "", strings.Repeat("é", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &discordgo.Message{Content: tt.content, Author: human}
			if tt.nick != "" {
				m.Member = &discordgo.Member{Nick: tt.nick}
			}
			assert.Equal(t, tt.want, ThreadName(m))
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	m := e.say(e.general.ID, human, "./nope")
	sent := e.fake.SentTo(e.general.ID)
	require.Len(t, sent, 1)
	assert.Equal(t, `Command "nope" is not found`, sent[0].Content)
	require.NotNil(t, sent[0].Reference)
	assert.Equal(t, m.ID, sent[0].Reference.MessageID)
}

func TestChecks(t *testing.T) {
	e := newEnv(t)
	e.say(e.general.ID, human, "./sort")
	assert.Equal(t, ErrNotAdmin.Error(), e.last(e.general.ID))

	dm := &discordgo.Message{ID: "5", ChannelID: "dm-50", Author: human, Content: "./sort"}
	e.bot.HandleMessage(context.Background(), dm)
	assert.Equal(t, ErrGuildOnly.Error(), e.last("dm-50"))

	e.say(e.general.ID, human, "./archive")
	assert.Equal(t, ErrNotProjectChannel.Error(), e.last(e.general.ID))

	proj, _ := e.project(t, e.projects, "rust", 0)
	e.say(proj.ID, other, "./archive")
	assert.Equal(t, ErrNotOwner.Error(), e.last(proj.ID))
}

func TestBotOwnerIsAdmin(t *testing.T) {
	e := newEnv(t)
	e.bot.cfg.OwnerID = other.ID
	e.say(e.general.ID, other, "./get_categories")
	assert.Equal(t, "Project categories: ['Projects A-Z']", e.last(e.general.ID))
}

func TestMakeChannel(t *testing.T) {
	e := newEnv(t)
	e.project(t, e.projects, "alpha", 0)
	e.project(t, e.projects, "zeta", 1)

	e.say(e.logCh.ID, boss, "./make_channel <@50> rust")

	names := e.childNames(t, e.projects)
	require.Equal(t, []string{"alpha", "rust", "zeta"}, names)
	channels, err := e.fake.GuildChannels(context.Background(), "1")
	require.NoError(t, err)
	rust := discord.Children(channels, e.projects.ID)[1]

	pc, err := e.store.ProjectChannel(context.Background(), rust.ID)
	require.NoError(t, err)
	roles, err := e.fake.GuildRoles(context.Background(), "1")
	require.NoError(t, err)
	role := discord.RoleByID(roles, pc.OwnerRoleID)
	require.NotNil(t, role)
	assert.Equal(t, "lang: Rust", role.Name)
	assert.True(t, role.Mentionable)

	member := e.fake.Member("1", human.ID)
	assert.Contains(t, member.Roles, role.ID)
	assert.Contains(t, member.Roles, e.ownerRole.ID)

	o := discord.OverwriteFor(rust, e.hidden.ID)
	require.NotNil(t, o)
	assert.Equal(t, int64(discordgo.PermissionViewChannel), o.Deny)

	sent := e.fake.ContentsTo(e.logCh.ID)
	assert.Contains(t, sent, "Creating channel rust for <@50>...")
	assert.Contains(t, sent, "Created channel <#"+rust.ID+">.")
	assert.Contains(t, sent, "Created and assigned role <@&"+role.ID+">.")
	assert.Equal(t, "✅ Done!", e.last(e.logCh.ID))
}

func TestMakeChannelNeedsArguments(t *testing.T) {
	e := newEnv(t)
	e.say(e.logCh.ID, boss, "./make_channel <@50>")
	assert.Equal(t, "name is a required argument that is missing.", e.last(e.logCh.ID))

	e.say(e.logCh.ID, boss, "./make_channel nobody rust")
	assert.Equal(t, `Member "nobody" not found.`, e.last(e.logCh.ID))
}

func TestRenameChannelAndSetProjectRole(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.projects, "rust", 0)
	e.say(proj.ID, human, "./rename_channel rust lang", role.ID)
	assert.Equal(t, "rust lang", e.fake.Lookup(proj.ID).Name)
	assert.Equal(t, "Renamed channel rust -> <#"+proj.ID+">.", e.last(proj.ID))

	e.say(e.general.ID, boss, "./set_project_role <@&"+e.ownerRole.ID+">")
	pc, err := e.store.ProjectChannel(context.Background(), e.general.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ownerRole.ID, pc.OwnerRoleID)
	assert.Equal(t, "Assigned role <@&"+e.ownerRole.ID+"> to <#"+e.general.ID+">.", e.last(e.general.ID))
}

func TestArchiveCommand(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.projects, "rust", 0)
	e.say(proj.ID, human, "./archive", role.ID)

	assert.Equal(t, e.archiveCat.ID, e.fake.Lookup(proj.ID).ParentID)
	assert.Contains(t, e.fake.ContentsTo(proj.ID), "Archiving channel.")
	assert.Contains(t, e.fake.ContentsTo(e.logCh.ID), "Channel <#"+proj.ID+"> archived manually by owner.")
}

func TestUnarchiveOnMessage(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.archiveCat, "rust", 0)
	require.NoError(t, e.fake.SetPermission(context.Background(), proj.ID, "1", discordgo.PermissionOverwriteTypeRole, 0, discordgo.PermissionSendMessages))

	e.say(proj.ID, human, "I'm back", role.ID)

	got := e.fake.Lookup(proj.ID)
	assert.Equal(t, e.projects.ID, got.ParentID)
	assert.Nil(t, discord.OverwriteFor(got, "1"))
	assert.Equal(t, "Channel unarchived!", e.last(proj.ID))
}

func TestDeleteChannelConfirmed(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.projects, "rust", 0)
	e.fake.AddMessage(proj.ID, human, "hello", time.Now().Add(-time.Hour))

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.say(proj.ID, human, "./delete_channel", role.ID)
	}()

	var prompt string
	require.Eventually(t, func() bool {
		for _, s := range e.fake.SentTo(proj.ID) {
			if strings.HasPrefix(s.Content, "Are you sure") {
				prompt = s.MessageID
			}
		}
		return prompt != "" && e.bot.waiters.Pending() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Someone else's approval does not count.
	e.bot.HandleReactionAdd(context.Background(), &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID: other.ID, MessageID: prompt, ChannelID: proj.ID, GuildID: "1", Emoji: discordgo.Emoji{Name: "👍"},
	}})
	assert.Equal(t, 1, e.bot.waiters.Pending())

	e.bot.HandleReactionAdd(context.Background(), &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID: human.ID, MessageID: prompt, ChannelID: proj.ID, GuildID: "1", Emoji: discordgo.Emoji{Name: "👍"},
	}})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delete_channel did not finish")
	}

	assert.Contains(t, e.fake.Deleted, proj.ID)
	sent := e.fake.SentTo(e.archiveCh.ID)
	require.NotEmpty(t, sent)
	upload := sent[len(sent)-1]
	assert.Contains(t, upload.Files["history_rust.txt"], "human: hello")
	_, err := e.store.ProjectChannel(context.Background(), proj.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDeleteChannelTimesOut(t *testing.T) {
	e := newEnv(t)
	e.bot.ConfirmTimeout = 10 * time.Millisecond
	proj, role := e.project(t, e.projects, "rust", 0)

	e.say(proj.ID, human, "./delete_channel", role.ID)

	assert.Equal(t, "Timed out. Cancelling.", e.last(proj.ID))
	assert.Empty(t, e.fake.Deleted)
	assert.Zero(t, e.bot.waiters.Pending())
}

func TestExportCommand(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.projects, "rust", 0)
	e.fake.AddMessage(proj.ID, human, "first", time.Now().Add(-time.Hour))

	e.say(proj.ID, human, "./export", role.ID)

	sent := e.fake.SentTo(proj.ID)
	require.NotEmpty(t, sent)
	upload := sent[len(sent)-1]
	assert.Equal(t, "✅ Done!", upload.Content)
	assert.Contains(t, upload.Files["history.txt"], "Channel: #rust")
	assert.Contains(t, upload.Files["history.txt"], "human: first")
}

func TestLangbotToggle(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.projects, "rust", 0)

	e.say(proj.ID, human, "./enable_langbot", role.ID)
	assert.Equal(t, `Member "LangBot" not found.`, e.last(proj.ID))

	e.fake.AddMember("1", &discordgo.User{ID: "777", Username: "LangBot", Bot: true}, "")
	e.say(proj.ID, human, "./enable_langbot", role.ID)
	assert.Equal(t, "✅ Langbot enabled.", e.last(proj.ID))
	o := discord.OverwriteFor(e.fake.Lookup(proj.ID), "777")
	require.NotNil(t, o)
	assert.Equal(t, int64(discordgo.PermissionViewChannel), o.Allow)

	e.say(proj.ID, human, "./enable_langbot", role.ID)
	assert.Equal(t, "✅ Langbot is already enabled in this channel.", e.last(proj.ID))

	e.say(proj.ID, human, "./disable_langbot", role.ID)
	assert.Equal(t, "✅ Langbot disabled.", e.last(proj.ID))
	assert.Nil(t, discord.OverwriteFor(e.fake.Lookup(proj.ID), "777"))

	e.say(proj.ID, human, "./disable_langbot", role.ID)
	assert.Equal(t, "✅ Langbot is already disabled in this channel.", e.last(proj.ID))
}

func TestSortCommand(t *testing.T) {
	e := newEnv(t)
	e.project(t, e.projects, "zeta", 0)
	e.project(t, e.projects, "alpha", 1)

	e.say(e.logCh.ID, boss, "./sort")

	assert.Equal(t, []string{"alpha", "zeta"}, e.childNames(t, e.projects))
	sent := e.fake.ContentsTo(e.logCh.ID)
	require.NotEmpty(t, sent)
	assert.Equal(t, "Sorting project channels...", sent[0])
	assert.Contains(t, sent, "Channels sorted! Renamed 0 categories and moved 2 channels.")
	assert.Equal(t, "Done!", e.last(e.logCh.ID))
}

func TestPinUnpinDelete(t *testing.T) {
	e := newEnv(t)
	proj, role := e.project(t, e.projects, "rust", 0)
	target := e.fake.AddMessage(proj.ID, other, "pin me", time.Now().Add(-time.Minute))

	reply := func(content string) *discordgo.Message {
		m := e.fake.AddMessage(proj.ID, human, content, time.Now())
		m.Member = &discordgo.Member{Roles: []string{role.ID}}
		m.MessageReference = &discordgo.MessageReference{MessageID: target.ID, ChannelID: proj.ID, GuildID: "1"}
		e.bot.HandleMessage(context.Background(), m)
		return m
	}

	cmd := reply("./pin")
	pins, err := e.fake.PinnedMessages(context.Background(), proj.ID)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, target.ID, pins[0].ID)
	assert.False(t, e.fake.HasMessage(proj.ID, cmd.ID))

	reply("./unpin")
	pins, err = e.fake.PinnedMessages(context.Background(), proj.ID)
	require.NoError(t, err)
	assert.Empty(t, pins)

	reply("./delete")
	assert.False(t, e.fake.HasMessage(proj.ID, target.ID))

	e.say(proj.ID, human, "./pin", role.ID)
	assert.Equal(t, "You must reply to a message to pin it.", e.last(proj.ID))
}

func TestAutothreadAndThreadCommands(t *testing.T) {
	e := newEnv(t)
	e.say(e.logCh.ID, boss, "./enable_autothreading <#"+e.general.ID+">")
	assert.Equal(t, "Done!", e.last(e.logCh.ID))
	e.say(e.logCh.ID, boss, "./enable_autothreading general")
	assert.Equal(t, []string{"general is already autothreading.", "Done!"}, e.fake.ContentsTo(e.logCh.ID)[1:])

	e.say(e.general.ID, human, "How do I borrow?\nDetails follow")

	var thread *discordgo.Channel
	channels, err := e.fake.GuildChannels(context.Background(), "1")
	require.NoError(t, err)
	for _, c := range channels {
		if c.IsThread() {
			thread = c
		}
	}
	require.NotNil(t, thread)
	assert.Equal(t, "How do I borrow?", thread.Name)
	assert.Equal(t, e.general.ID, thread.ParentID)
	assert.Equal(t, []string{"If you're the OP, send `./rename_thread <new name>` to rename this thread, or `./archive_thread` to archive it."},
		e.fake.ContentsTo(thread.ID))

	e.say(thread.ID, other, "./rename_thread hijacked")
	assert.Equal(t, ErrNotThreadOwner.Error(), e.last(thread.ID))

	e.say(e.general.ID, human, "./rename_thread nope")
	assert.Equal(t, ErrNotThread.Error(), e.last(e.general.ID))

	cmd := e.say(thread.ID, human, "./rename_thread Borrowing basics")
	assert.Equal(t, "Borrowing basics", e.fake.Lookup(thread.ID).Name)
	assert.False(t, e.fake.HasMessage(thread.ID, cmd.ID))

	e.say(thread.ID, human, "./archive_thread")
	got := e.fake.Lookup(thread.ID)
	require.NotNil(t, got.ThreadMetadata)
	assert.True(t, got.ThreadMetadata.Archived)

	e.say(e.logCh.ID, boss, "./disable_autothreading general")
	e.say(e.logCh.ID, boss, "./disable_autothreading general")
	assert.Equal(t, "general is not autothreading.", e.fake.ContentsTo(e.logCh.ID)[len(e.fake.ContentsTo(e.logCh.ID))-2])
}

func TestGoto(t *testing.T) {
	e := newEnv(t)
	proj, _ := e.project(t, e.projects, "rust", 0)

	cmd := e.say(e.general.ID, human, "./portal <#"+proj.ID+">")

	to := e.fake.SentTo(proj.ID)
	require.Len(t, to, 1)
	require.Len(t, to[0].Embeds, 1)
	assert.Equal(t, "COMEFROM <#"+e.general.ID+">", to[0].Embeds[0].Title)
	assert.Equal(t, discord.MessageLink("1", e.general.ID, cmd.ID), to[0].Embeds[0].URL)

	from := e.fake.SentTo(e.general.ID)
	require.Len(t, from, 1)
	require.Len(t, from[0].Embeds, 1)
	assert.Equal(t, "GOTO <#"+proj.ID+">", from[0].Embeds[0].Title)
	assert.Equal(t, discord.MessageLink("1", proj.ID, to[0].MessageID), from[0].Embeds[0].URL)
	assert.Contains(t, from[0].Embeds[0].Description, "<@50> redirected conversation to <#"+proj.ID+">.")

	e.say(e.general.ID, human, "./goto general")
	assert.Equal(t, "Cannot redirect a conversation to the channel it is already in.", e.last(e.general.ID))
}

func TestGetCategoriesDropsMissing(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.AddProjectCategory(context.Background(), "1", "404")
	require.NoError(t, err)

	e.say(e.logCh.ID, boss, "./get_categories")

	assert.Equal(t, "Project categories: ['Projects A-Z']", e.last(e.logCh.ID))
	cats, err := e.store.ProjectCategories(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []string{e.projects.ID}, cats)
}

func TestSettingsCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.say(e.logCh.ID, boss, "./unset_archive_channel")
	assert.Equal(t, "Archive channel unset.", e.last(e.logCh.ID))
	g, err := e.store.Guild(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, g.ArchiveChannelID)

	e.say(e.logCh.ID, boss, "./set_archive_channel archive")
	assert.Equal(t, "Archive channel set to <#"+e.archiveCh.ID+">.", e.last(e.logCh.ID))

	e.say(e.logCh.ID, boss, "./set_archive_category archive")
	assert.Equal(t, `Channel "archive" not found.`, e.last(e.logCh.ID))

	e.say(e.logCh.ID, boss, "./set_channel_owner_role \"Channel Owner\"")
	assert.Equal(t, "Channel owner role set to <@&"+e.ownerRole.ID+">.", e.last(e.logCh.ID))

	e.say(e.logCh.ID, boss, `./set_project_categories "Projects A-Z" Archive`)
	sent := e.fake.ContentsTo(e.logCh.ID)
	assert.Equal(t, []string{"Projects A-Z is already a project category.", "Done!"}, sent[len(sent)-2:])
	cats, err := e.store.ProjectCategories(ctx, "1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{e.projects.ID, e.archiveCat.ID}, cats)

	e.say(e.logCh.ID, boss, "./unset_project_categories Archive Archive")
	sent = e.fake.ContentsTo(e.logCh.ID)
	assert.Equal(t, []string{"Archive is not a project category.", "Done!"}, sent[len(sent)-2:])
}

func TestSettingsOnUnregisteredGuild(t *testing.T) {
	e := newEnv(t)
	e.fake.AddGuild("2", boss.ID)
	lobby := e.fake.AddText("2", "", "lobby", 0, time.Now())

	e.say(lobby.ID, boss, "./unset_log_channel")
	assert.Equal(t, "Log channel is not set.", e.last(lobby.ID))

	e.say(lobby.ID, boss, "./enable_autothreading lobby")
	assert.Equal(t, notRegistered, e.last(lobby.ID))

	e.say(lobby.ID, boss, "./set_log_channel lobby")
	assert.Equal(t, "Log channel set to <#"+lobby.ID+">.", e.last(lobby.ID))
	g, err := e.store.Guild(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, lobby.ID, g.LogChannelID)
}

func TestChangePresenceAndHelp(t *testing.T) {
	e := newEnv(t)
	e.say(e.general.ID, human, "./change_presence")
	assert.Equal(t, ErrNotAdmin.Error(), e.last(e.general.ID))
	assert.Empty(t, e.fake.Presence)

	e.say(e.general.ID, boss, "./change_presence")
	assert.Equal(t, "playing Celeste", e.fake.Presence)
	assert.Equal(t, "✅ Done!", e.last(e.general.ID))

	e.say(e.general.ID, human, "./help")
	assert.Contains(t, e.last(e.general.ID), "make_channel")
	e.say(e.general.ID, human, "./help portal")
	assert.Contains(t, e.last(e.general.ID), "./goto <channel>")
	assert.Contains(t, e.last(e.general.ID), "Aliases: portal")
}

func TestChannelRenameRepositions(t *testing.T) {
	e := newEnv(t)
	e.project(t, e.projects, "alpha", 0)
	beta, _ := e.project(t, e.projects, "beta", 1)

	before := e.fake.Lookup(beta.ID)
	beta.Name = "aardvark"
	e.bot.HandleChannelUpdate(context.Background(), before, e.fake.Lookup(beta.ID))

	assert.Equal(t, []string{"aardvark", "alpha"}, e.childNames(t, e.projects))
	assert.Equal(t, "Channel <#"+beta.ID+"> was renamed: beta -> aardvark", e.last(e.logCh.ID))

	// Channels outside the project categories are left alone.
	before = e.fake.Lookup(e.general.ID)
	e.general.Name = "chat"
	e.bot.HandleChannelUpdate(context.Background(), before, e.fake.Lookup(e.general.ID))
	assert.Len(t, e.fake.ContentsTo(e.logCh.ID), 1)
}

func TestHandleMemberNormalises(t *testing.T) {
	e := newEnv(t)
	user := &discordgo.User{ID: "70", Username: "fancy"}
	e.fake.AddMember("1", user, "ｂｒｅａｄ")

	e.bot.HandleMember(context.Background(), &discordgo.Member{GuildID: "1", User: user, Nick: "ｂｒｅａｄ"})

	assert.Equal(t, "bread", e.fake.Member("1", "70").Nick)
	assert.Equal(t, "Renaming <@70>: ｂｒｅａｄ -> bread", e.last(e.logCh.ID))
}

func TestWaiters(t *testing.T) {
	w := NewWaiters()
	match := func(r *discordgo.MessageReaction) bool { return r.UserID == "1" }

	ok, err := w.Wait(context.Background(), "m", 5*time.Millisecond, match)
	require.NoError(t, err)
	assert.False(t, ok)

	done := make(chan bool, 1)
	go func() {
		ok, _ := w.Wait(context.Background(), "m", time.Minute, match)
		done <- ok
	}()
	require.Eventually(t, func() bool { return w.Pending() == 1 }, time.Second, time.Millisecond)
	assert.False(t, w.Dispatch(&discordgo.MessageReaction{MessageID: "m", UserID: "2"}))
	assert.False(t, w.Dispatch(&discordgo.MessageReaction{MessageID: "x", UserID: "1"}))
	assert.True(t, w.Dispatch(&discordgo.MessageReaction{MessageID: "m", UserID: "1"}))
	assert.True(t, <-done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Wait(ctx, "m", time.Minute, match)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadyMarksConnected(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.bot.Connected())
	e.bot.HandleReady(context.Background(), &discordgo.Ready{User: &discordgo.User{ID: "999", Username: "breadbot"}})
	assert.True(t, e.bot.Connected())
	assert.Equal(t, "999", e.bot.self())
	e.bot.setConnected(false)
	assert.False(t, e.bot.Connected())
}

// dispatch delivers ev to every handler accepting its type, as the session's
// event loop does, and reports how many ran.
func dispatch(handlers []any, ev any) int {
	n := 0
	for _, h := range handlers {
		fn := reflect.ValueOf(h)
		if fn.Type().In(1) != reflect.TypeOf(ev) {
			continue
		}
		fn.Call([]reflect.Value{reflect.ValueOf((*discordgo.Session)(nil)), reflect.ValueOf(ev)})
		n++
	}
	return n
}

func TestRegisterOnSession(t *testing.T) {
	e := newEnv(t)
	s, err := discordgo.New("Bot x")
	require.NoError(t, err)
	assert.NotPanics(t, func() { e.bot.Register(context.Background(), s) })

	session := reflect.TypeOf((*discordgo.Session)(nil))
	seen := map[reflect.Type]bool{}
	for _, h := range e.bot.Handlers(context.Background()) {
		typ := reflect.TypeOf(h)
		require.Equal(t, reflect.Func, typ.Kind())
		require.Equal(t, 2, typ.NumIn())
		assert.Equal(t, session, typ.In(0))
		assert.Equal(t, reflect.Ptr, typ.In(1).Kind())
		assert.Equal(t, "github.com/bwmarrin/discordgo", typ.In(1).Elem().PkgPath())
		assert.False(t, seen[typ.In(1)], "duplicate handler for %s", typ.In(1))
		seen[typ.In(1)] = true
	}
}

func TestGatewayChannelRename(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	handlers := e.bot.Handlers(ctx)
	e.project(t, e.projects, "alpha", 0)
	beta, _ := e.project(t, e.projects, "beta", 1)

	channels, err := e.fake.GuildChannels(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, 1, dispatch(handlers, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "1", Channels: channels}}))

	// Topic-only edits are not renames.
	require.Equal(t, 1, dispatch(handlers, &discordgo.ChannelUpdate{Channel: e.fake.Lookup(beta.ID)}))
	assert.Empty(t, e.fake.ContentsTo(e.logCh.ID))

	beta.Name = "aardvark"
	dispatch(handlers, &discordgo.ChannelUpdate{Channel: e.fake.Lookup(beta.ID)})
	assert.Equal(t, []string{"aardvark", "alpha"}, e.childNames(t, e.projects))
	assert.Equal(t, "Channel <#"+beta.ID+"> was renamed: beta -> aardvark", e.last(e.logCh.ID))

	// A channel created after the guild snapshot is picked up too.
	gamma, _ := e.project(t, e.projects, "gamma", 2)
	dispatch(handlers, &discordgo.ChannelCreate{Channel: e.fake.Lookup(gamma.ID)})
	gamma.Name = "ab"
	dispatch(handlers, &discordgo.ChannelUpdate{Channel: e.fake.Lookup(gamma.ID)})
	assert.Equal(t, []string{"aardvark", "ab", "alpha"}, e.childNames(t, e.projects))
	assert.Equal(t, "Channel <#"+gamma.ID+"> was renamed: gamma -> ab", e.last(e.logCh.ID))

	// Without a recorded name there is nothing to compare against.
	dispatch(handlers, &discordgo.ChannelDelete{Channel: e.fake.Lookup(gamma.ID)})
	gamma.Name = "zz"
	dispatch(handlers, &discordgo.ChannelUpdate{Channel: e.fake.Lookup(gamma.ID)})
	assert.Len(t, e.fake.ContentsTo(e.logCh.ID), 2)
}

func TestGatewayBookmarkRoundTrip(t *testing.T) {
	e := newEnv(t)
	handlers := e.bot.Handlers(context.Background())
	msg := e.fake.AddMessage(e.general.ID, other, "read this later", time.Now())

	dispatch(handlers, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID: human.ID, MessageID: msg.ID, ChannelID: e.general.ID, GuildID: "1",
			Emoji: discordgo.Emoji{Name: "🔖"},
		},
		Member: &discordgo.Member{User: human},
	})
	dm := e.fake.SentTo("dm-" + human.ID)
	require.Len(t, dm, 1)

	dispatch(handlers, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID: human.ID, MessageID: dm[0].MessageID, ChannelID: "dm-" + human.ID,
			Emoji: discordgo.Emoji{Name: "🗑️"},
		},
	})
	assert.False(t, e.fake.HasMessage("dm-"+human.ID, dm[0].MessageID))
}

func TestGatewayConnectionEvents(t *testing.T) {
	e := newEnv(t)
	handlers := e.bot.Handlers(context.Background())
	dispatch(handlers, &discordgo.Ready{User: &discordgo.User{ID: "999", Username: "breadbot"}})
	assert.True(t, e.bot.Connected())
	dispatch(handlers, &discordgo.Disconnect{})
	assert.False(t, e.bot.Connected())
	dispatch(handlers, &discordgo.Resumed{})
	assert.True(t, e.bot.Connected())

	require.Equal(t, 1, dispatch(handlers, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: e.general.ID, GuildID: "1", Author: human, Content: "./help",
	}}))
	assert.Contains(t, e.last(e.general.ID), "make_channel")
}
