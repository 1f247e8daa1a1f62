package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Guild is the stored configuration of one Discord server. Unset ids are empty strings.
type Guild struct {
	ID                 string `db:"id"`
	LogChannelID       string `db:"log_channel_id"`
	ArchiveCategoryID  string `db:"archive_category_id"`
	ArchiveChannelID   string `db:"archive_channel_id"`
	ChannelOwnerRoleID string `db:"channel_owner_role_id"`

	ProjectCategories []string `db:"-"`
}

// SupportsProjectChannels reports whether project channels can be created in the guild.
func (g *Guild) SupportsProjectChannels() bool {
	return g != nil && len(g.ProjectCategories) > 0 && g.ChannelOwnerRoleID != ""
}

// FullySetUp additionally requires the archive category and channel.
func (g *Guild) FullySetUp() bool {
	return g.SupportsProjectChannels() && g.ArchiveCategoryID != "" && g.ArchiveChannelID != ""
}

// ProjectChannel registers a channel with the role that owns it.
type ProjectChannel struct {
	ID          string `db:"id"`
	GuildID     string `db:"guild_id"`
	OwnerRoleID string `db:"owner_role_id"`
}

// Setting names one of the optional id columns of a guild.
type Setting string

const (
	SettingLogChannel       Setting = "log_channel_id"
	SettingArchiveCategory  Setting = "archive_category_id"
	SettingArchiveChannel   Setting = "archive_channel_id"
	SettingChannelOwnerRole Setting = "channel_owner_role_id"
)

func (s Setting) valid() bool {
	switch s {
	case SettingLogChannel, SettingArchiveCategory, SettingArchiveChannel, SettingChannelOwnerRole:
		return true
	}
	return false
}

// Store implements the bot's persistence on Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open pgx connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const guildColumns = `id,
	COALESCE(log_channel_id, '') AS log_channel_id,
	COALESCE(archive_category_id, '') AS archive_category_id,
	COALESCE(archive_channel_id, '') AS archive_channel_id,
	COALESCE(channel_owner_role_id, '') AS channel_owner_role_id`

// Guild returns the guild row together with its project categories.
func (s *Store) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	err := s.db.GetContext(ctx, &g, `SELECT `+guildColumns+` FROM guilds WHERE id = $1`, guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	if g.ProjectCategories, err = s.ProjectCategories(ctx, guildID); err != nil {
		return nil, err
	}
	return &g, nil
}

// Guilds lists every registered guild, categories included.
func (s *Store) Guilds(ctx context.Context) ([]Guild, error) {
	var gs []Guild
	if err := s.db.SelectContext(ctx, &gs, `SELECT `+guildColumns+` FROM guilds ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	for i := range gs {
		cats, err := s.ProjectCategories(ctx, gs[i].ID)
		if err != nil {
			return nil, err
		}
		gs[i].ProjectCategories = cats
	}
	return gs, nil
}

// EnsureGuild creates the guild row if it does not exist yet and returns it.
func (s *Store) EnsureGuild(ctx context.Context, guildID string) (*Guild, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO guilds (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, guildID); err != nil {
		return nil, fmt.Errorf("ensure guild %s: %w", guildID, err)
	}
	return s.Guild(ctx, guildID)
}

// SetGuildSetting stores value for the setting, creating the guild row when needed.
// An empty value clears the setting.
func (s *Store) SetGuildSetting(ctx context.Context, guildID string, setting Setting, value string) error {
	if !setting.valid() {
		return fmt.Errorf("unknown guild setting %q", setting)
	}
	var v any
	if value != "" {
		v = value
	}
	// setting is validated against a fixed set of column names above.
	q := `INSERT INTO guilds (id, ` + string(setting) + `, updated_at) VALUES ($1, $2, NOW())
		  ON CONFLICT (id) DO UPDATE SET ` + string(setting) + ` = EXCLUDED.` + string(setting) + `, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, guildID, v); err != nil {
		return fmt.Errorf("set %s for guild %s: %w", setting, guildID, err)
	}
	return nil
}

// ProjectCategories returns the category ids registered for project channels.
func (s *Store) ProjectCategories(ctx context.Context, guildID string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM project_categories WHERE guild_id = $1 ORDER BY id`, guildID); err != nil {
		return nil, fmt.Errorf("list project categories: %w", err)
	}
	return ids, nil
}

// AddProjectCategory registers a category; created is false when it already was.
func (s *Store) AddProjectCategory(ctx context.Context, guildID, categoryID string) (created bool, err error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO project_categories (id, guild_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, categoryID, guildID)
	if err != nil {
		return false, fmt.Errorf("add project category: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveProjectCategory unregisters a category; removed is false when it was not registered.
func (s *Store) RemoveProjectCategory(ctx context.Context, guildID, categoryID string) (removed bool, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_categories WHERE id = $1 AND guild_id = $2`, categoryID, guildID)
	if err != nil {
		return false, fmt.Errorf("remove project category: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ProjectChannel returns the registration for a channel.
func (s *Store) ProjectChannel(ctx context.Context, channelID string) (*ProjectChannel, error) {
	var pc ProjectChannel
	err := s.db.GetContext(ctx, &pc, `SELECT id, guild_id, owner_role_id FROM project_channels WHERE id = $1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project channel %s: %w", channelID, err)
	}
	return &pc, nil
}

// ProjectChannels lists the registered channels of a guild.
func (s *Store) ProjectChannels(ctx context.Context, guildID string) ([]ProjectChannel, error) {
	var out []ProjectChannel
	if err := s.db.SelectContext(ctx, &out, `SELECT id, guild_id, owner_role_id FROM project_channels WHERE guild_id = $1 ORDER BY id`, guildID); err != nil {
		return nil, fmt.Errorf("list project channels: %w", err)
	}
	return out, nil
}

// UpsertProjectChannel registers a channel or changes its owner role.
func (s *Store) UpsertProjectChannel(ctx context.Context, pc ProjectChannel) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO project_channels (id, guild_id, owner_role_id, updated_at)
		VALUES (:id, :guild_id, :owner_role_id, NOW())
		ON CONFLICT (id) DO UPDATE SET owner_role_id = EXCLUDED.owner_role_id, updated_at = NOW()`, pc)
	if err != nil {
		return fmt.Errorf("upsert project channel %s: %w", pc.ID, err)
	}
	return nil
}

// DeleteProjectChannel removes a registration. Missing rows are not an error.
func (s *Store) DeleteProjectChannel(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM project_channels WHERE id = $1`, channelID); err != nil {
		return fmt.Errorf("delete project channel %s: %w", channelID, err)
	}
	return nil
}

// AddAutoThreadChannel enables autothreading; created is false when already enabled.
func (s *Store) AddAutoThreadChannel(ctx context.Context, guildID, channelID string) (created bool, err error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO autothread_channels (id, guild_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, channelID, guildID)
	if err != nil {
		return false, fmt.Errorf("add autothread channel: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveAutoThreadChannel disables autothreading; removed is false when it was not enabled.
func (s *Store) RemoveAutoThreadChannel(ctx context.Context, guildID, channelID string) (removed bool, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM autothread_channels WHERE id = $1 AND guild_id = $2`, channelID, guildID)
	if err != nil {
		return false, fmt.Errorf("remove autothread channel: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsAutoThreadChannel reports whether autothreading is enabled for the channel.
func (s *Store) IsAutoThreadChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM autothread_channels WHERE id = $1 AND guild_id = $2)`, channelID, guildID)
	if err != nil {
		return false, fmt.Errorf("check autothread channel: %w", err)
	}
	return exists, nil
}
