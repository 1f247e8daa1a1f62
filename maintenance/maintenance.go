// Package maintenance runs the periodic housekeeping cycle over every
// configured guild: archiving, deleting, sorting, pruning stale registrations
// and normalising member names.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/lifecycle"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/telemetry"
	"github.com/proglangs/breadbot/usernames"
)

// Store lists the guilds to maintain.
type Store interface {
	Guilds(ctx context.Context) ([]db.Guild, error)
}

// GameSource names a game to show as the bot's presence after a cycle.
type GameSource interface {
	RandomGame(ctx context.Context) (string, error)
}

const watching = "over the project channels"

// Job is one maintenance schedule. Locks must be the instance the bot's sort
// command uses.
type Job struct {
	Client      discord.Client
	Store       Store
	Sorter      *sorting.Sorter
	Lifecycle   *lifecycle.Manager
	Locks       *sorting.Locks
	Games       GameSource
	Interval    time.Duration
	Concurrency int
}

// Start runs a cycle immediately and then every Interval until ctx ends.
func (j *Job) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	slog.Info("maintenance job starting", slog.Duration("interval", interval), slog.Int("concurrency", j.Concurrency))

	if err := j.RunOnce(ctx); err != nil {
		slog.Warn("maintenance cycle failed", slog.Any("err", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance job stopped")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				slog.Warn("maintenance cycle failed", slog.Any("err", err))
			}
		}
	}
}

// RunOnce maintains every guild whose log channel still exists. Per-guild task
// failures are logged and counted; only a failure to list guilds is returned.
func (j *Job) RunOnce(ctx context.Context) error {
	ctx = telemetry.WithNewCorrelation(ctx)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "maintenance"))
	ctx, span := telemetry.StartSpan(ctx, "maintenance", "cycle")
	defer span.End()

	guilds, err := j.Store.Guilds(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("list guilds: %w", err)
	}
	telemetry.SetConfiguredGuilds(len(guilds))

	j.presence(ctx, discordgo.ActivityTypeWatching, watching)
	d := telemetry.TimeFunc(telemetry.MaintenanceDuration, func() {
		g, gctx := errgroup.WithContext(ctx)
		limit := j.Concurrency
		if limit < 1 {
			limit = 1
		}
		g.SetLimit(limit)
		for _, guild := range guilds {
			if guild.LogChannelID == "" {
				continue
			}
			g.Go(func() error {
				channels, err := j.Client.GuildChannels(gctx, guild.ID)
				if err != nil {
					logger.Warn("failed to list guild channels", slog.String("guild", guild.ID), slog.Any("err", err))
					return nil
				}
				if discord.ChannelByID(channels, guild.LogChannelID) == nil {
					logger.Info("skipping guild, log channel is gone", slog.String("guild", guild.ID), slog.String("channel", guild.LogChannelID))
					return nil
				}
				if err := j.RunGuild(gctx, guild); err != nil {
					logger.Warn("guild maintenance incomplete", slog.String("guild", guild.ID), slog.Any("err", err))
				}
				return nil
			})
		}
		_ = g.Wait()
	})

	if j.Games != nil {
		game, err := j.Games.RandomGame(ctx)
		if err != nil {
			logger.Warn("failed to pick a game", slog.Any("err", err))
		} else {
			j.presence(ctx, discordgo.ActivityTypeGame, game)
		}
	}

	telemetry.Inc(telemetry.MaintenanceCycles)
	telemetry.SetSpanSuccess(span)
	logger.Info("maintenance cycle complete", slog.Int("guilds", len(guilds)), slog.Duration("took", d))
	return nil
}

func (j *Job) presence(ctx context.Context, kind discordgo.ActivityType, name string) {
	if err := j.Client.SetPresence(kind, name); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to set presence", slog.Any("err", err))
	}
}

// RunGuild runs every task for one guild while holding its lock. A failing
// task does not stop the ones after it; the failures are returned joined.
func (j *Job) RunGuild(ctx context.Context, guild db.Guild) error {
	unlock := j.Locks.Lock(guild.ID)
	defer unlock()

	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "maintenance"), slog.String("guild", guild.ID))
	logCh := guild.LogChannelID

	tasks := []struct {
		name string
		run  func() error
	}{
		{"archive", func() error {
			_, err := j.Lifecycle.ArchiveInactive(ctx, &guild, logCh, false)
			return err
		}},
		{"delete", func() error {
			_, err := j.Lifecycle.DeleteDead(ctx, &guild, logCh, false)
			return err
		}},
		{"sort", func() error {
			if len(guild.ProjectCategories) == 0 {
				return nil
			}
			_, err := j.Sorter.Sort(ctx, &guild, logCh, true)
			return err
		}},
		{"cleanup", func() error {
			_, err := j.Lifecycle.CleanupDB(ctx, &guild, logCh)
			return err
		}},
		{"normalize", func() error { return j.normalizeMembers(ctx, guild.ID, logCh) }},
	}

	var errs []error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := t.run(); err != nil {
			telemetry.MaintenanceTaskFailed(t.name)
			logger.Warn("maintenance task failed", slog.String("task", t.name), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

func (j *Job) normalizeMembers(ctx context.Context, guildID, logChannelID string) error {
	members, err := j.Client.GuildMembers(ctx, guildID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	var errs []error
	for _, m := range members {
		if m.User == nil || m.User.Bot {
			continue
		}
		m.GuildID = guildID
		if _, err := usernames.MaybeNormalize(ctx, j.Client, m, logChannelID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
