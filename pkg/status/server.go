// Package status exposes a read-only HTTP view of the provider: which
// units are tracked, their live active-state, and whether an artifact
// currently exists for them.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/gorilla/mux"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/reconciler"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
	"github.com/unit-tools/traefik-unit-provider/pkg/tracker"
)

const mimeJSON = "application/json; charset=UTF-8"

// UnitInfo describes one tracked unit.
type UnitInfo struct {
	Name            string `json:"name"`
	ActiveState     string `json:"active_state"`
	Artifact        string `json:"artifact"`
	ArtifactPresent bool   `json:"artifact_present"`
}

// Handler wraps the tracked registry, adding http.Handler
// functionality.
type Handler struct {
	manager   systemd.Manager
	registry  *tracker.Registry
	store     configstore.Store
	outputDir string
	logger    logging.Logger
	router    *mux.Router
}

func NewHandler(manager systemd.Manager, registry *tracker.Registry, store configstore.Store, outputDir string, logger logging.Logger) *Handler {
	h := &Handler{
		manager:   manager,
		registry:  registry,
		store:     store,
		outputDir: outputDir,
		logger:    logger,
		router:    mux.NewRouter(),
	}
	h.router.HandleFunc("/healthz", h.healthz).Methods("GET")
	h.router.HandleFunc("/units", h.listUnits).Methods("GET")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.Write(b)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	sort.Strings(names)

	infos := make([]UnitInfo, 0, len(names))
	for _, name := range names {
		artifact := filepath.Join(h.outputDir, reconciler.Sanitize(name)+".yml")
		infos = append(infos, UnitInfo{
			Name:            name,
			ActiveState:     h.activeState(r.Context(), name),
			Artifact:        artifact,
			ArtifactPresent: h.store.Exists(artifact),
		})
	}
	h.writeJSON(w, infos)
}

// activeState queries the live state; failures degrade to "unknown"
// rather than failing the whole listing.
func (h *Handler) activeState(ctx context.Context, name string) string {
	objectPath, err := h.manager.LoadUnit(ctx, name)
	if err != nil {
		h.logger.Warnf("Failed to load unit %s for status listing: %v", name, err)
		return "unknown"
	}
	unit, err := h.manager.GetUnit(ctx, objectPath)
	if err != nil {
		h.logger.Warnf("Failed to resolve unit %s for status listing: %v", name, err)
		return "unknown"
	}
	state, err := unit.ActiveState(ctx)
	if err != nil {
		h.logger.Warnf("Failed to query active state of unit %s: %v", name, err)
		return "unknown"
	}
	return state
}
