package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/discord"
)

// referenced returns the message the command replies to, or nil.
func (b *Bot) referenced(ctx context.Context, c *Context) *discordgo.Message {
	if c.Message.ReferencedMessage != nil {
		return c.Message.ReferencedMessage
	}
	ref := c.Message.MessageReference
	if ref == nil || ref.MessageID == "" {
		return nil
	}
	channelID := ref.ChannelID
	if channelID == "" {
		channelID = c.Message.ChannelID
	}
	m, err := b.client.Message(ctx, channelID, ref.MessageID)
	if err != nil {
		return nil
	}
	return m
}

// onReply builds pin, unpin and delete: act on the replied-to message, then
// remove the command message.
func (b *Bot) onReply(verb string, act func(ctx context.Context, m *discordgo.Message) error) CommandFunc {
	return func(ctx context.Context, c *Context) error {
		target := b.referenced(ctx, c)
		if target == nil {
			return c.Send(ctx, fmt.Sprintf("You must reply to a message to %s it.", verb))
		}
		if err := act(ctx, target); err != nil {
			return err
		}
		return b.client.DeleteMessage(ctx, c.Message.ChannelID, c.Message.ID)
	}
}

func (b *Bot) pin(ctx context.Context, m *discordgo.Message) error {
	return b.client.PinMessage(ctx, m.ChannelID, m.ID)
}

func (b *Bot) unpin(ctx context.Context, m *discordgo.Message) error {
	return b.client.UnpinMessage(ctx, m.ChannelID, m.ID)
}

func (b *Bot) deleteMessage(ctx context.Context, m *discordgo.Message) error {
	return b.client.DeleteMessage(ctx, m.ChannelID, m.ID)
}

func (b *Bot) renameThread(ctx context.Context, c *Context) error {
	if c.Rest == "" {
		return fmt.Errorf("name is a required argument that is missing.")
	}
	if _, err := b.client.EditChannel(ctx, c.Message.ChannelID, &discordgo.ChannelEdit{Name: c.Rest}); err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}
	return b.client.DeleteMessage(ctx, c.Message.ChannelID, c.Message.ID)
}

func (b *Bot) archiveThread(ctx context.Context, c *Context) error {
	if err := b.client.DeleteMessage(ctx, c.Message.ChannelID, c.Message.ID); err != nil {
		return err
	}
	archived := true
	_, err := b.client.EditChannel(ctx, c.Message.ChannelID, &discordgo.ChannelEdit{Archived: &archived})
	return err
}

func randomColor() int { return rand.IntN(0x1000000) }

func (b *Bot) gotoChannel(ctx context.Context, c *Context) error {
	arg, err := c.Arg(0, "channel")
	if err != nil {
		return err
	}
	target, err := c.ChannelArg(ctx, arg, gotoTargets...)
	if err != nil {
		return err
	}
	if target.ID == c.Message.ChannelID {
		return errors.New("Cannot redirect a conversation to the channel it is already in.")
	}
	author := discord.UserMention(c.Message.Author.ID)
	source := discord.ChannelMention(c.Message.ChannelID)
	dest := discord.ChannelMention(target.ID)

	sent, err := b.client.SendComplex(ctx, target.ID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Title: "COMEFROM " + source,
		Description: fmt.Sprintf("%s redirected conversation from %s here.\n"+
			"Click the title of this embed to see the previous messages in this topic.", author, source),
		URL:   discord.MessageLink(c.Message.GuildID, c.Message.ChannelID, c.Message.ID),
		Color: randomColor(),
	}}})
	if err != nil {
		return fmt.Errorf("post in %s: %w", target.Name, err)
	}
	_, err = b.client.SendComplex(ctx, c.Message.ChannelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Title: "GOTO " + dest,
		Description: fmt.Sprintf("%s redirected conversation to %s.\n"+
			"Click the title of this embed to proceed to the continuation of this topic.", author, dest),
		URL:   discord.MessageLink(c.Message.GuildID, target.ID, sent.ID),
		Color: randomColor(),
	}}})
	return err
}
