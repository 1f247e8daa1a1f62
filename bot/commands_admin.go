package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) changePresence(ctx context.Context, c *Context) error {
	game, err := b.games.RandomGame(ctx)
	if err != nil {
		return fmt.Errorf("pick game: %w", err)
	}
	if err := b.client.SetPresence(discordgo.ActivityTypeGame, game); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return c.Send(ctx, "✅ Done!")
}

func (b *Bot) help(ctx context.Context, c *Context) error {
	p := b.cfg.CommandPrefix
	if len(c.Args) > 0 {
		cmd, ok := b.router.Lookup(strings.TrimPrefix(c.Args[0], p))
		if !ok {
			return fmt.Errorf("No command called %q found.", c.Args[0])
		}
		text := "```\n" + p + cmd.Name
		if cmd.Usage != "" {
			text += " " + cmd.Usage
		}
		text += "\n\n" + cmd.Help
		if len(cmd.Aliases) > 0 {
			text += "\n\nAliases: " + strings.Join(cmd.Aliases, ", ")
		}
		return c.Send(ctx, text+"\n```")
	}
	var sb strings.Builder
	sb.WriteString("```\nCommands:\n")
	for _, cmd := range b.router.Commands() {
		first, _, _ := strings.Cut(cmd.Help, "\n")
		fmt.Fprintf(&sb, "  %-24s %s\n", cmd.Name, first)
	}
	fmt.Fprintf(&sb, "\nType %shelp command for more info on a command.\n```", p)
	return c.Send(ctx, sb.String())
}

func (b *Bot) registerCommands() {
	owned := []Check{guildOnly, adminOrChannelOwner}
	admin := []Check{guildOnly, adminOnly}
	project := []Check{guildOnly, adminOnly, supportsProjectChannels}
	messages := []Check{guildOnly, supportsProjectChannels, adminOrChannelOwner}
	thread := []Check{guildOnly, threadOPOrAdmin}

	add := func(name, usage, help string, checks []Check, run CommandFunc, aliases ...string) {
		b.router.Add(&Command{Name: name, Aliases: aliases, Usage: usage, Help: help, Checks: checks, Run: run})
	}

	add("help", "[command]", "Shows this message.", nil, b.help)

	add("make_channel", "<owner> <name>", "Creates a project channel owned by the member and sorts the categories.", project, b.makeChannel)
	add("rename_channel", "<name>", "Renames the current project channel.", owned, b.renameChannel)
	add("set_project_role", "<role>", "Registers the current channel as a project channel owned by the role.", admin, b.setProjectRole)
	add("archive", "", "Moves the current project channel to the archive.", owned, b.archive)
	add("delete_channel", "", "Deletes the current project channel after exporting its history.", owned, b.deleteChannel)
	add("export", "", "Uploads the history of the current channel as a text file.", owned, b.exportChannel)
	add("enable_langbot", "", "Lets LangBot see the current channel.", owned, b.enableLangbot)
	add("disable_langbot", "", "Hides the current channel from LangBot.", owned, b.disableLangbot)
	add("sort", "", "Sorts the project channels alphabetically across the project categories.", project, b.sort)

	add("pin", "", "Pins the message you reply to.", messages, b.onReply("pin", b.pin))
	add("unpin", "", "Unpins the message you reply to.", messages, b.onReply("unpin", b.unpin))
	add("delete", "", "Deletes the message you reply to.", messages, b.onReply("delete", b.deleteMessage))
	add("rename_thread", "<name>", "Renames the current thread.", thread, b.renameThread)
	add("archive_thread", "", "Archives the current thread.", thread, b.archiveThread)
	add("goto", "<channel>", "Redirects the conversation to another channel or thread.", []Check{guildOnly}, b.gotoChannel, "portal")

	add("get_categories", "", "Lists the project categories.", admin, b.getCategories)
	for _, name := range []string{"log_channel", "archive_channel", "archive_category", "channel_owner_role"} {
		s := settings[name]
		add("set_"+name, "<"+s.argName+">", "Sets the "+strings.ToLower(s.label)+".", admin, b.setSetting(s))
		add("unset_"+name, "", "Unsets the "+strings.ToLower(s.label)+".", admin, b.unsetSetting(s))
	}
	add("set_project_categories", "<category>...", "Registers categories for project channels.", admin, b.eachArg(categoryType, b.addCategory))
	add("unset_project_categories", "<category>...", "Unregisters project categories.", admin, b.eachArg(categoryType, b.removeCategory))
	add("enable_autothreading", "<channel>...", "Starts a thread on every message in the channels.", admin, b.eachArg(textChannel, b.enableAutothread))
	add("disable_autothreading", "<channel>...", "Stops starting threads in the channels.", admin, b.eachArg(textChannel, b.disableAutothread))

	add("change_presence", "", "Picks a new game to play.", []Check{adminOnly}, b.changePresence)
}
