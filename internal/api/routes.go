// Package api provides HTTP handlers for the geftools server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
	"github.com/atlasmap-sc/geftools/internal/bgef"
	"github.com/atlasmap-sc/geftools/internal/genemap"
	"github.com/atlasmap-sc/geftools/internal/jobstore"
	"github.com/atlasmap-sc/geftools/internal/render"
	"github.com/atlasmap-sc/geftools/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
	GeneMap     *genemap.Store
	// DefaultColormap is used when a tile request names none.
	DefaultColormap string
	// RequestLog enables chi's request logger.
	RequestLog bool
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	if cfg.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global endpoints (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Get("/api/genemap/{symbol}", geneMapHandler(cfg.GeneMap))

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", jobSubmitHandler(cfg.JobManager))
		r.Get("/", jobListHandler(cfg.JobManager))
		r.Get("/{job_id}", jobStatusHandler(cfg.JobManager))
		r.Delete("/{job_id}", jobCancelHandler(cfg.JobManager))
	})

	defaultColormap := cfg.DefaultColormap
	if defaultColormap == "" {
		defaultColormap = "viridis"
	}

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		// Tile endpoints
		r.Get("/tiles/{bin}/{layer}/{z}/{x}/{y}.png", layerTileHandler(defaultColormap))
		r.Get("/tiles/{bin}/gene/{gene}/{z}/{x}/{y}.png", geneTileHandler(defaultColormap))

		// API endpoints
		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", metadataHandler)
			r.Get("/genes", genesHandler)
			r.Get("/genes/{gene}", geneHandler)
			r.Get("/stats/genes", statsHandler)
			r.Get("/preview.png", previewHandler(defaultColormap))
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects its service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				writeError(w, http.StatusNotFound, "dataset not found: "+datasetID)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.DatasetService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.DatasetService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bgef.ErrUnknownBin),
		errors.Is(err, bgef.ErrUnknownGene),
		errors.Is(err, jobstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bgef.ErrNoExon),
		errors.Is(err, service.ErrInvalidTile),
		errors.Is(err, service.ErrTileTooLarge),
		errors.Is(err, service.ErrNoWholeExp),
		errors.Is(err, ErrBadJobPath):
		status = http.StatusBadRequest
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrManagerClosed):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func tileCoords(r *http.Request) (bin, z, x, y int, err error) {
	for _, p := range []struct {
		name string
		dst  *int
	}{{"bin", &bin}, {"z", &z}, {"x", &x}, {"y", &y}} {
		v, convErr := strconv.Atoi(chi.URLParam(r, p.name))
		if convErr != nil {
			return 0, 0, 0, 0, errors.New("invalid " + p.name)
		}
		*p.dst = v
	}
	return bin, z, x, y, nil
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// geneMapHandler resolves a gene symbol through the gene map table.
func geneMapHandler(store *genemap.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotImplemented, "gene map not configured")
			return
		}
		symbol := chi.URLParam(r, "symbol")
		id, ok, err := store.Query(r.Context(), symbol)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "symbol not found: "+symbol)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "gene_id": id})
	}
}

func layerTileHandler(defaultColormap string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		bin, z, x, y, err := tileCoords(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		layer, err := bgef.ParseLayer(chi.URLParam(r, "layer"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmap := r.URL.Query().Get("colormap")
		if cmap == "" {
			cmap = defaultColormap
		}

		data, err := svc.LayerTile(bin, layer, z, x, y, cmap)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writePNG(w, data)
	}
}

func geneTileHandler(defaultColormap string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		bin, z, x, y, err := tileCoords(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmap := r.URL.Query().Get("colormap")
		if cmap == "" {
			cmap = defaultColormap
		}

		data, err := svc.GeneTile(bin, chi.URLParam(r, "gene"), z, x, y, cmap)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writePNG(w, data)
	}
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	data, err := svc.CachedJSON("metadata", nil, func() (interface{}, error) {
		return svc.Metadata()
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeRawJSON(w, data)
}

func genesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	bin, err := queryInt(r, "bin", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 || limit > 5000 {
		limit = 100
	}

	params := map[string]interface{}{"bin": bin, "offset": offset, "limit": limit}
	data, err := svc.CachedJSON("genes", params, func() (interface{}, error) {
		return svc.Genes(bin, offset, limit)
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeRawJSON(w, data)
}

func geneHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	bin, err := queryInt(r, "bin", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := svc.Gene(bin, chi.URLParam(r, "gene"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := svc.CachedJSON("stats", map[string]interface{}{"limit": limit}, func() (interface{}, error) {
		return svc.Stats(limit)
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeRawJSON(w, data)
}

func previewHandler(defaultColormap string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		bin, err := queryInt(r, "bin", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		size, err := queryInt(r, "size", 1024)
		if err != nil || size <= 0 || size > 8192 {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		layer, err := bgef.ParseLayer(r.URL.Query().Get("layer"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmap := r.URL.Query().Get("colormap")
		if cmap == "" {
			cmap = defaultColormap
		}

		img, err := svc.Preview(bin, layer, size, cmap)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		render.EncodePNG(w, img)
	}
}

type jobSubmitRequest struct {
	Input      string `json:"input"`
	Output     string `json:"output"`
	Bins       []int  `json:"bins"`
	Region     string `json:"region"`
	Omics      string `json:"omics"`
	Resolution int    `json:"resolution"`
	Overwrite  bool   `json:"overwrite"`
	UseGeneMap bool   `json:"use_gene_map"`
	DatasetID  string `json:"dataset_id"`
}

func jobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		var req jobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Input == "" {
			writeError(w, http.StatusBadRequest, "input is required")
			return
		}
		for _, b := range req.Bins {
			if b <= 0 {
				writeError(w, http.StatusBadRequest, "bins must be positive")
				return
			}
		}
		if req.Region != "" {
			if _, err := aggregate.ParseRegion(req.Region); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		job, err := jm.Submit(r.Context(), jobstore.ConvertParams{
			Input:      req.Input,
			Output:     req.Output,
			Bins:       req.Bins,
			Region:     req.Region,
			Omics:      req.Omics,
			Resolution: req.Resolution,
			Overwrite:  req.Overwrite,
			UseGeneMap: req.UseGeneMap,
			DatasetID:  req.DatasetID,
		})
		if err != nil {
			if errors.Is(err, ErrBadJobPath) || errors.Is(err, fs.ErrNotExist) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
			"output": job.Params.Output,
		})
	}
}

func jobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}
		limit, err := queryInt(r, "limit", 100)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		jobs, err := jm.List(r.Context(), jobstore.JobStatus(r.URL.Query().Get("status")), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}
}

func jobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}
		job, err := jm.Get(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// jobCancelHandler cancels an active job, or deletes the record of a
// finished one.
func jobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}
		jobID := chi.URLParam(r, "job_id")
		cancelled, err := jm.Cancel(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cancelled {
			writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "cancelled": true})
			return
		}
		if err := jm.Delete(r.Context(), jobID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "deleted": true})
	}
}
