package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/proglangs/breadbot/db"
)

// MemStore is an in-memory stand-in for db.Store with the same method set.
type MemStore struct {
	mu          sync.Mutex
	guilds      map[string]*db.Guild
	categories  map[string]string // category id -> guild id
	channels    map[string]db.ProjectChannel
	autothreads map[string]string // channel id -> guild id
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		guilds:      map[string]*db.Guild{},
		categories:  map[string]string{},
		channels:    map[string]db.ProjectChannel{},
		autothreads: map[string]string{},
	}
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) categoriesOf(guildID string) []string {
	var ids []string
	for id, g := range s.categories {
		if g == guildID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *MemStore) Guild(_ context.Context, guildID string) (*db.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *g
	cp.ProjectCategories = s.categoriesOf(guildID)
	return &cp, nil
}

func (s *MemStore) Guilds(ctx context.Context) ([]db.Guild, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	out := make([]db.Guild, 0, len(ids))
	for _, id := range ids {
		g, err := s.Guild(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}

func (s *MemStore) EnsureGuild(ctx context.Context, guildID string) (*db.Guild, error) {
	s.mu.Lock()
	if _, ok := s.guilds[guildID]; !ok {
		s.guilds[guildID] = &db.Guild{ID: guildID}
	}
	s.mu.Unlock()
	return s.Guild(ctx, guildID)
}

func (s *MemStore) SetGuildSetting(ctx context.Context, guildID string, setting db.Setting, value string) error {
	if _, err := s.EnsureGuild(ctx, guildID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.guilds[guildID]
	switch setting {
	case db.SettingLogChannel:
		g.LogChannelID = value
	case db.SettingArchiveCategory:
		g.ArchiveCategoryID = value
	case db.SettingArchiveChannel:
		g.ArchiveChannelID = value
	case db.SettingChannelOwnerRole:
		g.ChannelOwnerRoleID = value
	default:
		return fmt.Errorf("unknown guild setting %q", setting)
	}
	return nil
}

func (s *MemStore) ProjectCategories(_ context.Context, guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoriesOf(guildID), nil
}

func (s *MemStore) AddProjectCategory(_ context.Context, guildID, categoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[guildID]; !ok {
		return false, fmt.Errorf("add project category: guild %s not registered", guildID)
	}
	if _, ok := s.categories[categoryID]; ok {
		return false, nil
	}
	s.categories[categoryID] = guildID
	return true, nil
}

func (s *MemStore) RemoveProjectCategory(_ context.Context, guildID, categoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.categories[categoryID] != guildID {
		return false, nil
	}
	delete(s.categories, categoryID)
	return true, nil
}

func (s *MemStore) ProjectChannel(_ context.Context, channelID string) (*db.ProjectChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.channels[channelID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &pc, nil
}

func (s *MemStore) ProjectChannels(_ context.Context, guildID string) ([]db.ProjectChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.ProjectChannel
	for _, pc := range s.channels {
		if pc.GuildID == guildID {
			out = append(out, pc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) UpsertProjectChannel(_ context.Context, pc db.ProjectChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[pc.GuildID]; !ok {
		return fmt.Errorf("upsert project channel: guild %s not registered", pc.GuildID)
	}
	s.channels[pc.ID] = pc
	return nil
}

func (s *MemStore) DeleteProjectChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
	return nil
}

func (s *MemStore) AddAutoThreadChannel(_ context.Context, guildID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[guildID]; !ok {
		return false, fmt.Errorf("add autothread channel: guild %s not registered", guildID)
	}
	if _, ok := s.autothreads[channelID]; ok {
		return false, nil
	}
	s.autothreads[channelID] = guildID
	return true, nil
}

func (s *MemStore) RemoveAutoThreadChannel(_ context.Context, guildID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autothreads[channelID] != guildID {
		return false, nil
	}
	delete(s.autothreads, channelID)
	return true, nil
}

func (s *MemStore) IsAutoThreadChannel(_ context.Context, guildID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autothreads[channelID] == guildID, nil
}
