// Package console serves the debug HTTP surface: manual passes, a diff of
// both stores, live pass events and the dev menu.
package console

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/ghyeongl/savesync/devmenu"
	"github.com/ghyeongl/savesync/savedata"
)

const (
	reportCacheKey = "report"
	reportTTL      = 5 * time.Second
)

// DiskUsage is the space left where the stores live.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

// StatusResponse is the body of GET /api/savedata/status.
type StatusResponse struct {
	LastPass     *savedata.Result       `json:"lastPass,omitempty"`
	RecentErrors []savedata.ErrorRecord `json:"recentErrors"`
	Disk         *DiskUsage             `json:"disk,omitempty"`
}

// Handlers holds the HTTP handlers of the console.
type Handlers struct {
	runner    *savedata.Runner
	legacy    savedata.LegacySide
	versioned savedata.VersionedSide
	menu      *devmenu.Menu
	events    *savedata.EventBus
	dataDir   string
	reports   *ttlcache.Cache[string, savedata.Report]
	upgrader  websocket.Upgrader
}

// NewHandlers creates the console handlers.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		runner:    d.Runner,
		legacy:    d.Legacy,
		versioned: d.Versioned,
		menu:      d.Menu,
		events:    d.Events,
		dataDir:   d.DataDir,
		reports: ttlcache.New[string, savedata.Report](
			ttlcache.WithTTL[string, savedata.Report](reportTTL),
			ttlcache.WithDisableTouchOnHit[string, savedata.Report](),
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleMigrate handles POST /api/savedata/migrate.
func (h *Handlers) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	h.runPass(w, r, savedata.ModeMigrate)
}

// HandleSync handles POST /api/savedata/sync.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.runPass(w, r, savedata.ModeSync)
}

func (h *Handlers) runPass(w http.ResponseWriter, r *http.Request, mode savedata.Mode) {
	l := savedata.Logger("handlers")
	l.Info("HTTP pass", "mode", mode)

	res, err := h.runner.Run(r.Context(), mode)
	h.reports.DeleteAll()
	switch {
	case errors.Is(err, savedata.ErrPassInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		l.Error("pass failed", "mode", mode, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleFiles handles GET /api/savedata/files.
func (h *Handlers) HandleFiles(w http.ResponseWriter, r *http.Request) {
	l := savedata.Logger("handlers")
	if item := h.reports.Get(reportCacheKey); item != nil {
		l.Debug("HTTP files (cached)")
		writeJSON(w, http.StatusOK, item.Value())
		return
	}
	rep := savedata.BuildReport(savedata.Discover(r.Context(), h.legacy, h.versioned))
	h.reports.Set(reportCacheKey, rep, ttlcache.DefaultTTL)
	l.Debug("HTTP files", "count", len(rep.Files))
	writeJSON(w, http.StatusOK, rep)
}

// HandleStatus handles GET /api/savedata/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{RecentErrors: savedata.RecentErrors()}
	if res, ok := h.runner.LastResult(); ok {
		resp.LastPass = &res
	}
	if h.dataDir != "" {
		if u, err := disk.UsageWithContext(r.Context(), h.dataDir); err == nil {
			resp.Disk = &DiskUsage{Path: u.Path, Total: u.Total, Free: u.Free, UsedPercent: u.UsedPercent}
		} else {
			savedata.Logger("handlers").Warn("disk usage unavailable", "path", h.dataDir, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEvents handles GET /api/savedata/events, streaming pass events
// over a websocket until the client goes away.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	l := savedata.Logger("handlers")
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// The read side only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
			if err := conn.WriteJSON(ev); err != nil {
				l.Debug("websocket write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// HandleGive handles POST /api/devmenu/give.
func (h *Handlers) HandleGive(w http.ResponseWriter, r *http.Request) {
	var item devmenu.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		savedata.Logger("handlers").Warn("give: bad body", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out := h.menu.Give(r.Context(), item)
	status := http.StatusOK
	if !out.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

// HandleInventory handles GET /api/devmenu/inventory.
func (h *Handlers) HandleInventory(w http.ResponseWriter, r *http.Request) {
	inv := h.menu.Inventory(r.Context())
	if inv == nil {
		inv = []devmenu.InventoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": inv})
}
