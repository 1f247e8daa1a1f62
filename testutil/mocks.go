package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockSteamSpyServer mocks the SteamSpy top100in2weeks endpoint.
type MockSteamSpyServer struct {
	*httptest.Server
	Requests atomic.Int32

	body   atomic.Value // []byte
	status atomic.Int32
}

// NewMockSteamSpyServer starts a server answering with an empty game list.
func NewMockSteamSpyServer(t *testing.T) *MockSteamSpyServer {
	t.Helper()
	m := &MockSteamSpyServer{}
	m.body.Store([]byte("{}"))
	m.status.Store(http.StatusOK)
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Requests.Add(1)
		if r.URL.Query().Get("request") != "top100in2weeks" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(m.status.Load()))
		_, _ = w.Write(m.body.Load().([]byte)) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// URL is the endpoint to configure as STEAMSPY_URL.
func (m *MockSteamSpyServer) URL() string {
	return m.Server.URL + "/api.php?request=top100in2weeks"
}

// MockGames answers with the given appid -> name map.
func (m *MockSteamSpyServer) MockGames(games map[string]string) {
	payload := make(map[string]map[string]any, len(games))
	for id, name := range games {
		payload[id] = map[string]any{"appid": id, "name": name}
	}
	data, _ := json.Marshal(payload) //nolint:errcheck // static test data
	m.body.Store(data)
	m.status.Store(http.StatusOK)
}

// MockRaw answers with an arbitrary body and status.
func (m *MockSteamSpyServer) MockRaw(status int, body string) {
	m.body.Store([]byte(body))
	m.status.Store(int32(status))
}
