package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vcmplayer/backend/internal/callbridge"
	"vcmplayer/backend/internal/facade"
	"vcmplayer/backend/internal/music"
	"vcmplayer/backend/internal/presence"
	"vcmplayer/backend/internal/resolver"
	"vcmplayer/backend/internal/resume"
	"vcmplayer/backend/internal/state"
	"vcmplayer/backend/internal/telegram"
	"vcmplayer/backend/internal/web"
	"vcmplayer/backend/pkg/config"
	"vcmplayer/backend/pkg/logger"
)

const (
	bridgeWaitAttempts = 30
	bridgeWaitDelay    = time.Second
	shutdownTimeout    = 15 * time.Second
	queuePageSize      = 10
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting voice chat music player...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the checkpoint store
	store, err := state.Open(cfg)
	if err != nil {
		log.Fatal("Failed to open the state store", zap.Error(err))
	}
	defer store.Close()

	// Bot API client
	tg := telegram.New(cfg.APIBaseURL, cfg.BotToken)
	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Fatal("Failed to reach the bot API", zap.Error(err))
	}
	log.Info("Bot authorized", zap.String("username", me.Username), zap.Int64("id", me.ID))

	// Voice bridge sidecar holding the assistant session
	bridge := callbridge.New(cfg.BridgeURL)
	if err := bridge.WaitForBridge(ctx, bridgeWaitAttempts, bridgeWaitDelay); err != nil {
		log.Fatal("Voice bridge did not come up", zap.Error(err))
	}
	if err := bridge.Connect(ctx); err != nil {
		log.Fatal("Failed to connect to the voice bridge", zap.Error(err))
	}
	defer bridge.Close()

	// Playback engines and their dependencies
	res := resolver.New(cfg.YtdlpPath, cfg.ResolveTimeout)
	registry := music.NewRegistry(music.Deps{
		Resolver:  res,
		Transport: bridge,
		Presence:  presence.NewManager(tg, bridge, cfg.AssistantID),
		Store:     store,
	}, music.Options{
		CheckpointInterval: cfg.CheckpointInterval,
		ProgressInterval:   cfg.ProgressInterval,
		StorageTimeout:     cfg.StorageTimeout,
		MaxQueueSize:       cfg.MaxQueueSize,
	})

	fac := facade.New(tg, registry, res, facade.Options{
		BotUsername:       me.Username,
		AssistantUsername: cfg.AssistantUsername,
		RateLimitEvery:    cfg.RateLimitInterval,
		ResolveTimeout:    cfg.ResolveTimeout,
		DownloadDir:       cfg.DownloadDir,
		PageSize:          queuePageSize,
	})

	// Stream-end signals route to the owning engine; an unknown chat means
	// that engine already exited.
	bridge.SetOnStreamEnd(func(chatID int64) {
		if e, ok := registry.Get(chatID); ok {
			e.Submit(music.StreamEnded{})
		}
	})

	ctl := resume.New(store,
		func(chatID int64) resume.Session { return fac.Engine(chatID) },
		tg,
		resume.Options{Stagger: cfg.ResumeStagger},
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := web.New(registry, cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fac.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		// Recovery is best-effort; a failed pass never takes the service down.
		if err := ctl.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("resume pass incomplete", zap.Error(err))
		}
		return nil
	})

	log.Info("Service is running. Press CTRL-C to exit.")
	if err := g.Wait(); err != nil {
		log.Error("service loop failed", zap.Error(err))
	}

	log.Info("Shutting down...")

	// Engines write their final checkpoints here; the next start resumes
	// from them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("engine shutdown incomplete", zap.Error(err))
	}

	log.Info("Service stopped")
}
