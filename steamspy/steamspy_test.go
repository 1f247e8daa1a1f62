package steamspy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proglangs/breadbot/testutil"
)

func TestTopGames(t *testing.T) {
	srv := testutil.NewMockSteamSpyServer(t)
	srv.MockGames(map[string]string{"730": "Counter-Strike 2", "570": "Dota 2", "1086940": "Baldur's Gate 3"})

	c := &Client{URL: srv.URL()}
	names, err := c.TopGames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Baldur's Gate 3", "Dota 2", "Counter-Strike 2"}, names)
	assert.Equal(t, int32(1), srv.Requests.Load())
}

func TestRandomGame(t *testing.T) {
	srv := testutil.NewMockSteamSpyServer(t)
	srv.MockGames(map[string]string{"570": "Dota 2", "730": "Counter-Strike 2"})

	var asked int
	c := &Client{URL: srv.URL(), Pick: func(n int) int { asked = n; return n - 1 }}
	name, err := c.RandomGame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, asked)
	assert.Equal(t, "Counter-Strike 2", name)

	c.Pick = nil
	name, err = c.RandomGame(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []string{"Dota 2", "Counter-Strike 2"}, name)
}

func TestRandomGameFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>rate limited</html>"},
		{"empty body", ""},
		{"wrong shape", `["a","b"]`},
		{"no games", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockSteamSpyServer(t)
			srv.MockRaw(http.StatusOK, tt.body)
			name, err := (&Client{URL: srv.URL()}).RandomGame(context.Background())
			require.NoError(t, err)
			assert.Equal(t, Fallback, name)
		})
	}
}

func TestRandomGameStatusError(t *testing.T) {
	srv := testutil.NewMockSteamSpyServer(t)
	srv.MockRaw(http.StatusBadGateway, "{}")
	_, err := (&Client{URL: srv.URL()}).RandomGame(context.Background())
	assert.ErrorContains(t, err, "502")
}
