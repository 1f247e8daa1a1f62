package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/lifecycle"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/testutil"
)

const day = 24 * time.Hour

type games struct {
	name string
	err  error
}

func (g games) RandomGame(context.Context) (string, error) { return g.name, g.err }

type fixture struct {
	fake       *testutil.FakeDiscord
	store      *testutil.MemStore
	job        *Job
	projects   *discordgo.Channel
	archiveCat *discordgo.Channel
	logCh      *discordgo.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	fx := &fixture{fake: testutil.NewFakeDiscord(), store: testutil.NewMemStore()}
	old := time.Now().Add(-400 * day)
	fx.fake.AddGuild("1", "owner")
	fx.projects = fx.fake.AddCategory("1", "Projects A-Z", 0)
	fx.archiveCat = fx.fake.AddCategory("1", "Archive", 1)
	archiveCh := fx.fake.AddText("1", "", "archive", 0, old)
	fx.logCh = fx.fake.AddText("1", "", "log", 1, old)
	ownerRole := fx.fake.AddRole("1", "Channel Owner", 0)

	_, err := fx.store.EnsureGuild(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, fx.store.SetGuildSetting(ctx, "1", db.SettingLogChannel, fx.logCh.ID))
	require.NoError(t, fx.store.SetGuildSetting(ctx, "1", db.SettingArchiveCategory, fx.archiveCat.ID))
	require.NoError(t, fx.store.SetGuildSetting(ctx, "1", db.SettingArchiveChannel, archiveCh.ID))
	require.NoError(t, fx.store.SetGuildSetting(ctx, "1", db.SettingChannelOwnerRole, ownerRole.ID))
	_, err = fx.store.AddProjectCategory(ctx, "1", fx.projects.ID)
	require.NoError(t, err)

	sorter := &sorting.Sorter{Client: fx.fake, NameFormat: "Projects %s-%s"}
	fx.job = &Job{
		Client: fx.fake,
		Store:  fx.store,
		Sorter: sorter,
		Lifecycle: &lifecycle.Manager{
			Client:          fx.fake,
			Store:           fx.store,
			Sorter:          sorter,
			ArchiveAfter:    90 * day,
			DeleteAfter:     180 * day,
			NewChannelGrace: 30 * day,
		},
		Locks:       sorting.NewLocks(),
		Games:       games{name: "Celeste"},
		Interval:    time.Hour,
		Concurrency: 2,
	}
	return fx
}

func (fx *fixture) project(t *testing.T, name string, pos int) *discordgo.Channel {
	t.Helper()
	c := fx.fake.AddText("1", fx.projects.ID, name, pos, time.Now().Add(-200*day))
	// quiet long enough to archive, not long enough to delete
	fx.fake.AddMessage(c.ID, &discordgo.User{ID: "50", Username: "human"}, "old news", time.Now().Add(-120*day))
	r := fx.fake.AddRole("1", "lang: "+name, 0)
	require.NoError(t, fx.store.UpsertProjectChannel(context.Background(), db.ProjectChannel{ID: c.ID, GuildID: "1", OwnerRoleID: r.ID}))
	return c
}

func TestRunOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	idle := fx.project(t, "idle", 0)
	busy := fx.project(t, "busy", 1)
	fx.fake.AddMessage(busy.ID, &discordgo.User{ID: "50", Username: "human"}, "hi", time.Now().Add(-day))
	require.NoError(t, fx.store.UpsertProjectChannel(ctx, db.ProjectChannel{ID: "404", GuildID: "1", OwnerRoleID: "405"}))
	fx.fake.AddMember("1", &discordgo.User{ID: "70", Username: "fancy"}, "ｂｒｅａｄ")
	fx.fake.AddMember("1", &discordgo.User{ID: "71", Username: "ＢＯＴ", Bot: true}, "")

	// A guild without a log channel is left alone.
	fx.fake.AddGuild("2", "owner")
	quiet := fx.fake.AddText("2", "", "quiet", 0, time.Now())
	_, err := fx.store.EnsureGuild(ctx, "2")
	require.NoError(t, err)

	require.NoError(t, fx.job.RunOnce(ctx))

	assert.Equal(t, fx.archiveCat.ID, fx.fake.Lookup(idle.ID).ParentID)
	assert.Equal(t, fx.projects.ID, fx.fake.Lookup(busy.ID).ParentID)
	_, err = fx.store.ProjectChannel(ctx, "404")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Equal(t, "bread", fx.fake.Member("1", "70").Nick)
	assert.Empty(t, fx.fake.Member("1", "71").Nick)
	assert.Equal(t, "playing Celeste", fx.fake.Presence)

	logged := fx.fake.ContentsTo(fx.logCh.ID)
	assert.Contains(t, logged, "Archiving <#"+idle.ID+"> due to inactivity.")
	assert.Contains(t, logged, "Removed channel 404 from the database.")
	assert.Contains(t, logged, "Renaming <@70>: ｂｒｅａｄ -> bread")
	assert.Empty(t, fx.fake.ContentsTo(quiet.ID))
}

func TestRunOnceSkipsGuildWithDeletedLogChannel(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.fake.AddGuild("3", "owner")
	fx.fake.AddMember("3", &discordgo.User{ID: "80", Username: "fancy"}, "ｆａｎｃｙ")
	_, err := fx.store.EnsureGuild(ctx, "3")
	require.NoError(t, err)
	require.NoError(t, fx.store.SetGuildSetting(ctx, "3", db.SettingLogChannel, "888"))

	require.NoError(t, fx.job.RunOnce(ctx))

	assert.Equal(t, "ｆａｎｃｙ", fx.fake.Member("3", "80").Nick)
	assert.Empty(t, fx.fake.ContentsTo("888"))
}

func TestRunOnceKeepsWatchingWhenNoGame(t *testing.T) {
	fx := newFixture(t)
	fx.job.Games = games{err: errors.New("steamspy down")}
	require.NoError(t, fx.job.RunOnce(context.Background()))
	assert.Equal(t, "watching over the project channels", fx.fake.Presence)
}

func TestRunOnceListFailure(t *testing.T) {
	fx := newFixture(t)
	fx.job.Store = failingStore{}
	err := fx.job.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list guilds")
	assert.Empty(t, fx.fake.Presence)
}

type failingStore struct{}

func (failingStore) Guilds(context.Context) ([]db.Guild, error) { return nil, errors.New("db down") }

func TestRunGuildContinuesAfterFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	idle := fx.project(t, "idle", 0)
	fx.fake.FailOn["GuildMembers"] = errors.New("boom")

	guild, err := fx.store.Guild(ctx, "1")
	require.NoError(t, err)
	err = fx.job.RunGuild(ctx, *guild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normalize: list members: boom")
	assert.Equal(t, fx.archiveCat.ID, fx.fake.Lookup(idle.ID).ParentID)
}

func TestRunGuildWaitsForLock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	busy := fx.project(t, "busy", 0)
	fx.fake.AddMessage(busy.ID, &discordgo.User{ID: "50", Username: "human"}, "hi", time.Now().Add(-day))
	guild, err := fx.store.Guild(ctx, "1")
	require.NoError(t, err)

	unlock := fx.job.Locks.Lock("1")
	done := make(chan error, 1)
	go func() { done <- fx.job.RunGuild(ctx, *guild) }()

	select {
	case <-done:
		t.Fatal("maintenance ran while the guild was locked")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance did not resume after unlock")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	fx := newFixture(t)
	fx.job.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.job.Start(ctx)
	}()

	require.Eventually(t, func() bool { return fx.fake.CurrentPresence() == "playing Celeste" }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
}
