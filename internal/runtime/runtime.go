// Package runtime wires every C1-C9 component into one process (C10),
// replacing the teacher's package-level bot/cache/workers globals with a
// single struct constructed once at startup by cmd/tgdl, exactly the way
// runApp builds its router/bot/workers before blocking on router.Run.
package runtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tgdl/config"
	"tgdl/internal/control"
	"tgdl/internal/customdownload"
	"tgdl/internal/job"
	"tgdl/internal/mediadownload"
	"tgdl/internal/progress"
	"tgdl/internal/scheduler"
	"tgdl/internal/storage"
	"tgdl/internal/upstream"
	"tgdl/internal/zippackager"
)

// Runtime bundles every live component instance for the process's lifetime.
type Runtime struct {
	Log *zap.Logger

	DB        *storage.DB
	Broker    *upstream.Broker
	Tracker   *progress.Tracker
	Registry  *job.Registry
	ZipReg    *zippackager.Registry
	Sched     *scheduler.Scheduler
	CustomMgr *customdownload.Manager
	Control   *control.Server

	startTime time.Time
}

// New constructs every component in dependency order from config.ValueOf,
// which the caller must have already populated via config.Load.
func New(log *zap.Logger) (*Runtime, error) {
	cfg := config.ValueOf

	db, err := storage.Open(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	broker, err := upstream.NewBroker(log, cfg.ApiID, cfg.ApiHash, cfg.SessionDir)
	if err != nil {
		return nil, fmt.Errorf("construct upstream broker: %w", err)
	}

	tracker := progress.NewTracker(time.Duration(cfg.PauseTimeoutSeconds) * time.Second)
	registry := job.NewRegistry()
	zipReg := zippackager.NewRegistry(log)

	rt := &Runtime{
		Log:       log,
		DB:        db,
		Broker:    broker,
		Tracker:   tracker,
		Registry:  registry,
		ZipReg:    zipReg,
		startTime: time.Now(),
	}

	history := &historyAdapter{log: log.Named("History"), repo: db.DownloadHistory}

	clientFor := func(node *job.Node) (upstream.Client, error) {
		return broker.GetUserClient(context.Background(), node.FromUserID)
	}
	// Workers live for the whole process; Stop ends them by cancelling their
	// context, and pause/cancel are honored per item by the scheduler.
	isRunning := func() bool { return true }

	downloadCfg := mediadownload.Config{
		SavePath:          cfg.SavePath,
		BotSavePath:       cfg.BotSavePath,
		TempSavePath:      cfg.TempSavePath,
		PathPrefixOrder:   cfg.PathPrefixOrder,
		MediaTypes:        []string{"document", "video", "audio", "photo"},
		FileFormats:       map[string][]string{"all": {"all"}},
		RetryTimeout:      time.Duration(cfg.RetryTimeoutSeconds) * time.Second,
		EnableDownloadTxt: cfg.EnableDownloadTxt,
	}

	sched := scheduler.New(log, cfg.MaxDownloadTask, downloadCfg, tracker, history, clientFor, isRunning)
	rt.Sched = sched

	customMgr := customdownload.New(log, cfg.HistoryFilePath, cfg.SavePath, cfg.BotSavePath, db.DownloadHistory, db.CustomDownloads, registry, tracker, sched)
	rt.CustomMgr = customMgr

	tracker.SetZipOwnerLookup(zipReg.Lookup)
	tracker.SetNotifier(newBotNotifier(log, broker, func() *job.Node { return rt.Control.ActiveNode() }))

	titles := &chatTitleCache{repo: db.Chats}

	ctrl := control.NewServer(log, control.Config{
		Dev:                    cfg.Dev,
		LogLevel:               cfg.LogLevel,
		CookieName:             "tgdl_session",
		CookieSecure:           !cfg.Dev,
		SessionTTL:             24 * time.Hour,
		SessionCleanupInterval: 10 * time.Minute,
		TempSavePath:           cfg.TempSavePath,
		ChatTitleResolver:      titles.Resolve,
	}, broker, db, registry, tracker, sched, customMgr, zipReg)
	rt.Control = ctrl

	return rt, nil
}

// Start spins up the worker pool. Callers then serve Control.Router()/
// StatusRouter() and call Stop during shutdown.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Sched.Start(ctx)
}

// Stop tears down the worker pool and control surface's background
// goroutines, in reverse dependency order, then closes the storage pool.
func (rt *Runtime) Stop() {
	rt.Sched.Stop()
	rt.Control.Shutdown()
	if err := rt.DB.Close(); err != nil {
		rt.Log.Warn("failed to close storage", zap.Error(err))
	}
}

func (rt *Runtime) Uptime() time.Duration { return time.Since(rt.startTime) }
