package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ozgurtan/medavatar/internal/avatar"
	"github.com/ozgurtan/medavatar/internal/cache"
	"github.com/ozgurtan/medavatar/internal/config"
	"github.com/ozgurtan/medavatar/internal/heygen"
	"github.com/ozgurtan/medavatar/internal/httpapi"
	"github.com/ozgurtan/medavatar/internal/logger"
	"github.com/ozgurtan/medavatar/internal/observability"
	"github.com/ozgurtan/medavatar/internal/session"
	"github.com/ozgurtan/medavatar/internal/speech"
	"github.com/ozgurtan/medavatar/internal/testprotocol"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	var audioCache cache.AudioCache
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Warn("redis unreachable, running without audio cache")
		} else {
			audioCache = rc
			defer rc.Close()
			log.WithField("addr", cfg.RedisAddr).Info("audio cache: redis")
		}
	}

	var (
		primary  speech.Provider
		fallback speech.Provider
	)

	googleAvailable := strings.TrimSpace(cfg.GoogleTTSAPIKey) != ""
	elevenAvailable := strings.TrimSpace(cfg.ElevenLabsAPIKey) != ""

	newGoogle := func() speech.Provider {
		return speech.NewGoogleTTSProvider(speech.GoogleTTSConfig{
			APIKey:  cfg.GoogleTTSAPIKey,
			BaseURL: cfg.GoogleTTSBaseURL,
		})
	}
	newElevenLabs := func() speech.Provider {
		return speech.NewElevenLabsProvider(speech.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			BaseURL: cfg.ElevenLabsBaseURL,
			VoiceID: cfg.ElevenLabsVoiceID,
			ModelID: cfg.ElevenLabsModelID,
		})
	}

	speechMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if speechMode == "" {
		speechMode = "auto"
	}

	switch speechMode {
	case "google":
		if !googleAvailable {
			log.Fatal("SPEECH_PROVIDER=google but GOOGLE_TTS_API_KEY is not set")
		}
		primary = newGoogle()
		if elevenAvailable {
			fallback = newElevenLabs()
		}
	case "elevenlabs":
		if !elevenAvailable {
			log.Fatal("SPEECH_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		primary = newElevenLabs()
		if googleAvailable {
			fallback = newGoogle()
		}
	case "mock":
		primary = speech.NewMockProvider()
	case "auto":
		switch {
		case googleAvailable:
			primary = newGoogle()
			if elevenAvailable {
				fallback = newElevenLabs()
			}
		case elevenAvailable:
			primary = newElevenLabs()
		default:
			primary = speech.NewMockProvider()
			log.Warn("no speech API keys set, using mock synthesis")
		}
	default:
		log.WithField("provider", cfg.SpeechProvider).Fatal("invalid SPEECH_PROVIDER (expected auto|google|elevenlabs|mock)")
	}
	log.WithField("primary", primary.Name()).Info("speech provider selected")

	dispatcher := speech.NewDispatcher(primary, fallback, audioCache, cfg.AudioCacheTTL, log)

	var heygenClient heygen.Client
	if strings.TrimSpace(cfg.HeyGenAPIKey) != "" {
		heygenClient = heygen.NewHTTPClient(heygen.HTTPClientConfig{
			APIKey:  cfg.HeyGenAPIKey,
			BaseURL: cfg.HeyGenBaseURL,
		})
		log.Info("avatar provider: heygen")
	} else {
		heygenClient = heygen.NewMockClient()
		log.Warn("HEYGEN_API_KEY not set, using mock avatar provider")
	}

	registry := session.NewRegistry(cfg.SessionIdleTimeout)
	monitor := heygen.NewMonitor(heygenClient, registry, cfg.HeyGenWarmupTimeout, log, metrics)
	runner := testprotocol.NewRunner(log, metrics)

	orchestrator := avatar.NewOrchestrator(
		registry,
		avatar.NewMachine(cfg.EscalationThreshold),
		dispatcher,
		monitor,
		runner,
		avatar.NewBroadcaster(),
		cfg.DefaultLanguage,
		log,
		metrics,
	)

	api := httpapi.New(cfg, orchestrator, metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, cfg.SweepInterval)
	monitor.StartHealthLoop(runCtx, cfg.HealthCheckInterval)

	go func() {
		log.WithField("addr", cfg.BindAddr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info("shutdown complete")
}
