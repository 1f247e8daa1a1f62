package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// botPermissions covers everything the commands and maintenance touch.
const botPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionManageMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAttachFiles |
	discordgo.PermissionAddReactions |
	discordgo.PermissionManageChannels |
	discordgo.PermissionManageRoles |
	discordgo.PermissionManageNicknames |
	discordgo.PermissionCreatePublicThreads |
	discordgo.PermissionManageThreads

func inviteURL(clientID string, permissions int64) string {
	cfg := &oauth2.Config{ClientID: clientID, Endpoint: discordEndpoint, Scopes: []string{"bot"}}
	return cfg.AuthCodeURL("", oauth2.SetAuthURLParam("permissions", strconv.FormatInt(permissions, 10)))
}

func newInviteCmd() *cobra.Command {
	var (
		clientID    string
		permissions int64
	)
	cmd := &cobra.Command{
		Use:   "invite-url",
		Short: "Print the link that adds the bot to a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clientID == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				clientID = cfg.DiscordClientID
			}
			if clientID == "" {
				return errors.New("no application id: pass --client-id or set DISCORD_CLIENT_ID")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), inviteURL(clientID, permissions))
			return err
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "Discord application id (defaults to DISCORD_CLIENT_ID)")
	cmd.Flags().Int64Var(&permissions, "permissions", botPermissions, "permission bitfield to request")
	return cmd
}
