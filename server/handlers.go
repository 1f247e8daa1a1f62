package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/partition"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/telemetry"
)

type handlers struct {
	ctx  context.Context
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.deps.Store.Ping(r.Context()) }},
		{"gateway", func() error {
			if h.deps.Gateway == nil || !h.deps.Gateway() {
				return errors.New("discord session not connected")
			}
			return nil
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type guildStatus struct {
	ID                string   `json:"id"`
	ProjectCategories []string `json:"project_categories"`
	LogChannel        bool     `json:"log_channel"`
	FullySetUp        bool     `json:"fully_set_up"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	guilds, err := h.deps.Store.Guilds(r.Context())
	if err != nil {
		reqLogger(r).Error("status: list guilds", slog.Any("err", err))
		http.Error(w, "failed to list guilds", http.StatusInternalServerError)
		return
	}
	out := make([]guildStatus, 0, len(guilds))
	for _, g := range guilds {
		cats := g.ProjectCategories
		if cats == nil {
			cats = []string{}
		}
		out = append(out, guildStatus{
			ID:                g.ID,
			ProjectCategories: cats,
			LogChannel:        g.LogChannelID != "",
			FullySetUp:        g.FullySetUp(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gateway_connected": h.deps.Gateway != nil && h.deps.Gateway(),
		"guild_count":       len(out),
		"guilds":            out,
	})
}

// adminSort sorts one guild immediately. It refuses with 409 while a sort or
// maintenance run holds the guild.
func (h *handlers) adminSort(w http.ResponseWriter, r *http.Request) {
	id := guildParam(r)
	if id == "" {
		http.Error(w, "missing guild parameter", http.StatusBadRequest)
		return
	}
	guild, err := h.deps.Store.Guild(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "guild not registered", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	unlock, ok := h.deps.Locks.TryLock(id)
	if !ok {
		http.Error(w, "guild is busy", http.StatusConflict)
		return
	}
	defer unlock()

	ctx, span := telemetry.StartSpan(r.Context(), "http-server", "admin sort", telemetry.GuildAttr(id))
	defer span.End()
	res, err := h.deps.Sorter.Sort(ctx, guild, guild.LogChannelID, false)
	switch {
	case errors.Is(err, partition.ErrInvalidInput), errors.Is(err, sorting.ErrNoCategories):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		telemetry.RecordError(span, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "guild": id, "renames": res.Renames, "moves": res.Moves})
}

// adminMaintenance starts a maintenance run in the background and answers 202.
// With ?guild= only that guild is maintained.
func (h *handlers) adminMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := telemetry.WithCorrelation(h.ctx, telemetry.GetCorrelation(r.Context()))
	logger := reqLogger(r)

	id := guildParam(r)
	if id == "" {
		go func() {
			if err := h.deps.Maintenance.RunOnce(ctx); err != nil {
				logger.Warn("admin maintenance failed", slog.Any("err", err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}

	guild, err := h.deps.Store.Guild(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "guild not registered", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if guild.LogChannelID == "" {
		http.Error(w, "guild has no log channel", http.StatusUnprocessableEntity)
		return
	}
	go func() {
		if err := h.deps.Maintenance.RunGuild(ctx, *guild); err != nil {
			logger.Warn("admin maintenance incomplete", slog.String("guild", id), slog.Any("err", err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "guild": id})
}
