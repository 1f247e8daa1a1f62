package bot

import (
	"context"
	"errors"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
)

// Check failures. Their text is what the invoker sees.
var (
	ErrGuildOnly         = errors.New("This command cannot be used in private messages.")
	ErrNotAdmin          = errors.New("You are missing Administrator permission(s) to run this command.")
	ErrNotSetUp          = errors.New("This guild has not been set up for use with BreadBot.")
	ErrNotProjectChannel = errors.New("This channel is not a project channel.")
	ErrNotOwner          = errors.New("You are not the owner of this channel.")
	ErrNotThread         = errors.New("This command can only be used in a thread.")
	ErrNotThreadOwner    = errors.New("You did not start this thread.")
)

func guildOnly(_ context.Context, c *Context) error {
	if c.Message.GuildID == "" {
		return ErrGuildOnly
	}
	return nil
}

func adminOnly(ctx context.Context, c *Context) error {
	ok, err := c.IsAdmin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

func supportsProjectChannels(ctx context.Context, c *Context) error {
	g, err := c.StoredGuild(ctx)
	if err != nil {
		return err
	}
	if !g.SupportsProjectChannels() {
		return ErrNotSetUp
	}
	return nil
}

func adminOrChannelOwner(ctx context.Context, c *Context) error {
	ok, err := c.IsAdmin(ctx)
	if err != nil || ok {
		return err
	}
	pc, err := c.bot.store.ProjectChannel(ctx, c.Message.ChannelID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotProjectChannel
	}
	if err != nil {
		return err
	}
	if !discord.HasRole(c.Member(), pc.OwnerRoleID) {
		return ErrNotOwner
	}
	return nil
}

func threadOPOrAdmin(ctx context.Context, c *Context) error {
	ok, err := c.IsAdmin(ctx)
	if err != nil || ok {
		return err
	}
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	if !ch.IsThread() {
		return ErrNotThread
	}
	if c.Message.Author == nil || ch.OwnerID != c.Message.Author.ID {
		return ErrNotThreadOwner
	}
	return nil
}
