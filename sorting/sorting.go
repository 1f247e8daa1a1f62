// Package sorting keeps project channels in alphabetical order across the
// project categories, renaming each category after the letter range it holds.
package sorting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/partition"
	"github.com/proglangs/breadbot/telemetry"
)

// ErrNoCategories is returned when none of the registered project categories exist.
var ErrNoCategories = errors.New("no project categories found")

// Layout is the part of a guild's channel list that sorting works on.
type Layout struct {
	// Categories are the project categories present in the guild, sorted by name.
	Categories []*discordgo.Channel
	Archive    *discordgo.Channel
	channels   []*discordgo.Channel
}

// NewLayout picks the project and archive categories out of a guild's channels.
// Registered ids that no longer exist are ignored.
func NewLayout(channels []*discordgo.Channel, categoryIDs []string, archiveID string) Layout {
	l := Layout{channels: channels, Archive: discord.ChannelByID(channels, archiveID)}
	for _, id := range categoryIDs {
		if c := discord.ChannelByID(channels, id); c != nil {
			l.Categories = append(l.Categories, c)
		}
	}
	sort.SliceStable(l.Categories, func(i, j int) bool { return l.Categories[i].Name < l.Categories[j].Name })
	return l
}

// ProjectChannels returns every channel in the project categories, in display order.
func (l Layout) ProjectChannels() []*discordgo.Channel {
	var out []*discordgo.Channel
	for _, cat := range l.Categories {
		out = append(out, discord.Children(l.channels, cat.ID)...)
	}
	return out
}

// InProject reports whether the channel sits in one of the project categories.
func (l Layout) InProject(c *discordgo.Channel) bool {
	for _, cat := range l.Categories {
		if c.ParentID == cat.ID {
			return true
		}
	}
	return false
}

// Rename changes a category's name.
type Rename struct {
	CategoryID string
	From, To   string
}

// Placement is the target parent and position of one channel.
type Placement struct {
	ChannelID  string
	Name       string
	FromParent string
	ParentID   string
	FromPos    int
	Position   int
	// Moved is set when the channel changes category or its rank within it.
	Moved bool
}

// Plan is the full set of changes a sort makes.
type Plan struct {
	Renames    []Rename
	Placements []Placement
}

// Moves counts the channels whose category or rank changes.
func (p *Plan) Moves() int {
	n := 0
	for _, pl := range p.Placements {
		if pl.Moved {
			n++
		}
	}
	return n
}

func byName(channels []*discordgo.Channel) {
	sort.SliceStable(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
}

func channelName(c *discordgo.Channel) string { return c.Name }

// BuildPlan distributes the project channels over the project categories with
// partition.Balanced and orders the archive category by name. Nothing is
// changed when partitioning fails.
func BuildPlan(l Layout, nameFormat string) (*Plan, error) {
	if len(l.Categories) == 0 {
		return nil, ErrNoCategories
	}
	all := l.ProjectChannels()
	byName(all)
	groups, err := partition.Balanced(all, channelName, len(l.Categories))
	if err != nil {
		return nil, fmt.Errorf("sort %d channels into %d categories: %w", len(all), len(l.Categories), err)
	}

	plan := &Plan{}
	targets := make([]*discordgo.Channel, 0, len(l.Categories)+1)
	wanted := make([][]*discordgo.Channel, 0, len(l.Categories)+1)
	for i, cat := range l.Categories {
		group := groups[i]
		to := fmt.Sprintf(nameFormat, partition.LeadingLetter(group[0].Name), partition.LeadingLetter(group[len(group)-1].Name))
		if cat.Name != to {
			plan.Renames = append(plan.Renames, Rename{CategoryID: cat.ID, From: cat.Name, To: to})
		}
		targets = append(targets, cat)
		wanted = append(wanted, group)
	}
	if l.Archive != nil {
		archived := discord.Children(l.channels, l.Archive.ID)
		byName(archived)
		targets = append(targets, l.Archive)
		wanted = append(wanted, archived)
	}

	// rank of every managed channel within its current category
	rank := map[string]int{}
	pos := 0
	first := true
	for _, cat := range targets {
		for i, c := range discord.Children(l.channels, cat.ID) {
			rank[c.ID] = i
			if first || c.Position < pos {
				pos, first = c.Position, false
			}
		}
	}

	for i, cat := range targets {
		for j, c := range wanted[i] {
			plan.Placements = append(plan.Placements, Placement{
				ChannelID:  c.ID,
				Name:       c.Name,
				FromParent: c.ParentID,
				ParentID:   cat.ID,
				FromPos:    c.Position,
				Position:   pos,
				Moved:      c.ParentID != cat.ID || rank[c.ID] != j,
			})
			pos++
		}
	}
	return plan, nil
}

// Result summarises an applied plan.
type Result struct {
	Renames int
	Moves   int
}

// Sorter applies sorts and single-channel repositions to a guild.
type Sorter struct {
	Client     discord.Client
	NameFormat string
}

// Apply renames categories, reparents moved channels and sends one bulk
// position update for everything whose position changed.
func (s *Sorter) Apply(ctx context.Context, guildID string, plan *Plan) (Result, error) {
	var res Result
	for _, r := range plan.Renames {
		if _, err := s.Client.EditChannel(ctx, r.CategoryID, &discordgo.ChannelEdit{Name: r.To}); err != nil {
			return res, fmt.Errorf("rename category %s: %w", r.From, err)
		}
		res.Renames++
	}

	var reorder []*discordgo.Channel
	for _, pl := range plan.Placements {
		if pl.FromParent != pl.ParentID {
			p := pl.Position
			if _, err := s.Client.EditChannel(ctx, pl.ChannelID, &discordgo.ChannelEdit{ParentID: pl.ParentID, Position: &p}); err != nil {
				return res, fmt.Errorf("move channel %s: %w", pl.Name, err)
			}
		}
		if pl.Moved {
			res.Moves++
		}
		if pl.FromPos != pl.Position || pl.FromParent != pl.ParentID {
			reorder = append(reorder, &discordgo.Channel{ID: pl.ChannelID, Position: pl.Position})
		}
	}
	if len(reorder) > 0 {
		if err := s.Client.ReorderChannels(ctx, guildID, reorder); err != nil {
			return res, fmt.Errorf("reorder channels: %w", err)
		}
	}
	return res, nil
}

// Sort runs a full sort of the guild and reports to logChannelID. With verbose
// set, every rename and move is announced individually.
func (s *Sorter) Sort(ctx context.Context, guild *db.Guild, logChannelID string, verbose bool) (Result, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "sorting"), slog.String("guild", guild.ID))
	ctx, span := telemetry.StartSpan(ctx, "sorting", "sort", telemetry.GuildAttr(guild.ID))
	defer span.End()

	var (
		res Result
		err error
	)
	telemetry.TimeFunc(telemetry.SortDuration, func() {
		res, err = s.sort(ctx, guild, logChannelID, verbose)
	})
	if err != nil {
		telemetry.Inc(telemetry.SortsFailed)
		telemetry.RecordError(span, err)
		logger.Warn("sort failed", slog.Any("err", err))
		return res, err
	}
	telemetry.Inc(telemetry.SortsRun)
	telemetry.Add(telemetry.CategoryRenames, res.Renames)
	telemetry.Add(telemetry.ChannelMoves, res.Moves)
	logger.Info("sort complete", slog.Int("renames", res.Renames), slog.Int("moves", res.Moves))
	return res, nil
}

func (s *Sorter) sort(ctx context.Context, guild *db.Guild, logChannelID string, verbose bool) (Result, error) {
	channels, err := s.Client.GuildChannels(ctx, guild.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list channels: %w", err)
	}
	plan, err := BuildPlan(NewLayout(channels, guild.ProjectCategories, guild.ArchiveCategoryID), s.NameFormat)
	if err != nil {
		return Result{}, err
	}

	if verbose && logChannelID != "" {
		for _, r := range plan.Renames {
			s.say(ctx, logChannelID, fmt.Sprintf("Renaming %s to %s", r.From, r.To))
		}
		for _, pl := range plan.Placements {
			if pl.Moved {
				s.say(ctx, logChannelID, fmt.Sprintf("Moving channel %s.\nOld position: %d\nNew position: %d", pl.Name, pl.FromPos, pl.Position))
			}
		}
	}

	res, err := s.Apply(ctx, guild.ID, plan)
	if err != nil {
		return res, err
	}
	if logChannelID != "" && (res.Renames > 0 || res.Moves > 0) {
		s.say(ctx, logChannelID, fmt.Sprintf("Channels sorted! Renamed %d categories and moved %d channels.", res.Renames, res.Moves))
	}
	return res, nil
}

func (s *Sorter) say(ctx context.Context, channelID, text string) {
	if _, err := s.Client.Send(ctx, channelID, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to post sort log", slog.String("channel", channelID), slog.Any("err", err))
	}
}

// Reposition moves one channel to its alphabetical slot among the project
// channels without sorting everything else. The channel lands in the category
// of its alphabetical predecessor, or at the top of the first category.
func (s *Sorter) Reposition(ctx context.Context, guild *db.Guild, channelID string) error {
	channels, err := s.Client.GuildChannels(ctx, guild.ID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	target := discord.ChannelByID(channels, channelID)
	if target == nil {
		return fmt.Errorf("channel %s not found", channelID)
	}
	l := NewLayout(channels, guild.ProjectCategories, "")
	if len(l.Categories) == 0 {
		return ErrNoCategories
	}

	var others []*discordgo.Channel
	for _, c := range l.ProjectChannels() {
		if c.ID != channelID {
			others = append(others, c)
		}
	}
	byName(others)

	parentID := l.Categories[0].ID
	var anchor *discordgo.Channel
	after := true
	if len(others) > 0 {
		j := sort.Search(len(others), func(i int) bool { return others[i].Name > target.Name })
		if j == 0 {
			anchor, after = others[0], false
		} else {
			anchor = others[j-1]
		}
		parentID = anchor.ParentID
	}

	var siblings []*discordgo.Channel
	for _, c := range discord.Children(channels, parentID) {
		if c.ID != channelID {
			siblings = append(siblings, c)
		}
	}
	idx := 0
	base := target.Position
	for i, c := range siblings {
		if i == 0 || c.Position < base {
			base = c.Position
		}
		if anchor != nil && c.ID == anchor.ID {
			idx = i
			if after {
				idx++
			}
		}
	}
	ordered := make([]*discordgo.Channel, 0, len(siblings)+1)
	ordered = append(ordered, siblings[:idx]...)
	ordered = append(ordered, target)
	ordered = append(ordered, siblings[idx:]...)

	newPos := base + idx
	if target.ParentID != parentID {
		if _, err := s.Client.EditChannel(ctx, channelID, &discordgo.ChannelEdit{ParentID: parentID, Position: &newPos}); err != nil {
			return fmt.Errorf("move channel %s: %w", target.Name, err)
		}
	}
	reorder := make([]*discordgo.Channel, len(ordered))
	for i, c := range ordered {
		reorder[i] = &discordgo.Channel{ID: c.ID, Position: base + i}
	}
	if err := s.Client.ReorderChannels(ctx, guild.ID, reorder); err != nil {
		return fmt.Errorf("reorder channels: %w", err)
	}
	telemetry.LoggerWithCorr(ctx).Info("repositioned channel",
		slog.String("component", "sorting"),
		slog.String("guild", guild.ID),
		slog.String("channel", target.Name),
		slog.String("category", parentID))
	return nil
}
