package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/geftools/internal/api"
	"github.com/atlasmap-sc/geftools/internal/cache"
	"github.com/atlasmap-sc/geftools/internal/config"
	"github.com/atlasmap-sc/geftools/internal/genemap"
	"github.com/atlasmap-sc/geftools/internal/jobstore"
	"github.com/atlasmap-sc/geftools/internal/render"
)

func newServeCmd() *cobra.Command {
	var (
		port   int
		stores []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve bGEF stores as map tiles and run conversion jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				cfg.Server.Port = port
			}
			for _, s := range stores {
				id, path, ok := strings.Cut(s, "=")
				if !ok || id == "" || path == "" {
					return fmt.Errorf("invalid --store %q (want id=path)", s)
				}
				cfg.Data.AddDataset(id, config.DatasetConfig{StorePath: path})
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	cmd.Flags().StringArrayVar(&stores, "store", nil, "Extra dataset as id=path (repeatable)")
	return cmd
}

func runServe(cfg *config.Config) error {
	log := logrus.WithField("component", "server")
	log.WithField("port", cfg.Server.Port).Info("Starting geftools server")

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	// Initialize tile renderer (shared across all datasets)
	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:        cfg.Render.TileSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	registry := api.NewDatasetRegistry(api.RegistryConfig{
		DefaultDataset: cfg.Data.DefaultDataset,
		Title:          cfg.Server.Title,
		Cache:          cacheManager,
		Renderer:       tileRenderer,
		MaxTileCells:   cfg.Server.MaxTileCells,
	})
	defer registry.Close()

	datasetIDs := cfg.Data.DatasetIDs()
	log.WithFields(logrus.Fields{"datasets": len(datasetIDs), "default": cfg.Data.DefaultDataset}).Info("Initializing datasets")
	for _, id := range datasetIDs {
		ds := cfg.Data.Datasets[id]
		if err := registry.Open(id, ds.Name, ds.StorePath); err != nil {
			// stores may be produced later by a conversion job
			log.WithError(err).WithField("dataset", id).Warn("Dataset not loaded")
			continue
		}
		svc := registry.Get(id)
		log.WithFields(logrus.Fields{"dataset": id, "path": ds.StorePath, "bins": svc.Store().Bins()}).Info("Dataset loaded")
	}

	geneMap, err := genemap.Open(cfg.GeneMap.SQLitePath, cfg.GeneMap.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to open gene map: %w", err)
	}
	defer geneMap.Close()

	// Initialize job manager for conversions (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		SQLitePath:    cfg.Jobs.SQLitePath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
		InputDir:      cfg.Jobs.InputDir,
		OutputDir:     cfg.Jobs.OutputDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize job manager: %w", err)
	}
	log.WithFields(logrus.Fields{
		"max_concurrent": cfg.Jobs.MaxConcurrent,
		"retention_days": cfg.Jobs.RetentionDays,
		"sqlite":         cfg.Jobs.SQLitePath,
	}).Info("Job manager ready")

	jobManager.Executor = api.PipelineExecutor(cfg.Convert, geneMap)
	jobManager.OnComplete = func(job *jobstore.Job, result *jobstore.JobResult) {
		id := job.Params.DatasetID
		if id == "" {
			return
		}
		if err := registry.Open(id, id, result.Output); err != nil {
			log.WithError(err).WithField("dataset", id).Error("Failed to serve converted store")
			return
		}
		log.WithFields(logrus.Fields{"dataset": id, "path": result.Output}).Info("Converted store registered")
	}
	jobManager.Start()
	defer jobManager.Stop()

	router := api.NewRouter(api.RouterConfig{
		Registry:        registry,
		CORSOrigins:     cfg.Server.CORSOrigins,
		JobManager:      jobManager,
		GeneMap:         geneMap,
		DefaultColormap: cfg.Render.DefaultColormap,
		RequestLog:      cfg.Server.RequestLog,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}

	log.Info("Server stopped")
	return nil
}
