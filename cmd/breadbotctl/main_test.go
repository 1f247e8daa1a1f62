package main

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proglangs/breadbot/partition"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPartitionCommand(t *testing.T) {
	out, err := run(t, "rust\nawk\n\nbash\nc\n go \nzig\nc++\n", "partition", "--groups", "2")
	require.NoError(t, err)
	assert.Equal(t, "Projects A-C (4)\n  awk\n  bash\n  c\n  c++\nProjects G-Z (3)\n  go\n  rust\n  zig\n", out)
}

func TestPartitionCommandTooManyGroups(t *testing.T) {
	_, err := run(t, "ada\nalgol\n", "partition", "-g", "2")
	require.Error(t, err)
	assert.ErrorIs(t, err, partition.ErrInvalidInput)
}

func TestInviteURL(t *testing.T) {
	raw := inviteURL("1234", botPermissions)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "discord.com", u.Host)
	assert.Equal(t, "/oauth2/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "1234", q.Get("client_id"))
	assert.Equal(t, "bot", q.Get("scope"))
	perms, err := strconv.ParseInt(q.Get("permissions"), 10, 64)
	require.NoError(t, err)
	assert.NotZero(t, perms&discordgo.PermissionManageChannels)
	assert.NotZero(t, perms&discordgo.PermissionManageRoles)
}

func TestInviteCommandFlags(t *testing.T) {
	out, err := run(t, "", "invite-url", "--client-id", "42", "--permissions", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "client_id=42")
	assert.Contains(t, out, "permissions=8")
}
