// Command healthcheck probes the bot's /healthz endpoint and exits non-zero
// when it is not healthy. It is the container HEALTHCHECK.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// probeURL turns HTTP_ADDR (":8080", "0.0.0.0:8080" or a full URL) into the
// URL of /healthz on the local host.
func probeURL(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + "/healthz"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0", "localhost", 1)
	return "http://" + addr + "/healthz"
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("healthcheck request failed", slog.Any("err", err))
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !probe(ctx, &http.Client{}, probeURL(os.Getenv("HTTP_ADDR"))) {
		os.Exit(1)
	}
}
