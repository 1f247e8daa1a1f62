// Package steamspy picks a random game from SteamSpy's two-week top 100 for
// the bot's presence.
package steamspy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
)

// DefaultURL is the public top100in2weeks endpoint.
const DefaultURL = "https://steamspy.com/api.php?request=top100in2weeks"

// ErrDecode marks a response body that isn't the expected JSON object.
var ErrDecode = errors.New("decode steamspy response")

// Fallback is the game name used when the response can't be decoded.
const Fallback = "dead"

type Client struct {
	URL        string
	HTTPClient *http.Client
	// Pick chooses an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) url() string {
	if c.URL != "" {
		return c.URL
	}
	return DefaultURL
}

func (c *Client) pick(n int) int {
	if c.Pick != nil {
		return c.Pick(n)
	}
	return rand.IntN(n)
}

// TopGames returns the names of the current top games ordered by app id.
func (c *Client) TopGames(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("steamspy status %d", resp.StatusCode)
	}
	var body map[string]struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	ids := make([]string, 0, len(body))
	for id := range body {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, body[id].Name)
	}
	return names, nil
}

// RandomGame returns one of the top games. A response that can't be decoded
// or lists no games yields Fallback; transport and status errors are returned.
func (c *Client) RandomGame(ctx context.Context) (string, error) {
	names, err := c.TopGames(ctx)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return Fallback, nil
		}
		return "", err
	}
	if len(names) == 0 {
		return Fallback, nil
	}
	return names[c.pick(len(names))], nil
}
