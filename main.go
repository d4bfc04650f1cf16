// Command streamwall serves the stream wall: the embedded page, the wall
// session API that drives it, and the live-streams proxy.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the Helix and YouTube clients when credentials are present.
//   - Answers wall lookups in-process, or through PROXY_URL when set.
//   - Exposes /healthz, /readyz and /metrics next to the API.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cafu47/streamwall/config"
	"github.com/cafu47/streamwall/livestreams"
	"github.com/cafu47/streamwall/player"
	"github.com/cafu47/streamwall/server"
	"github.com/cafu47/streamwall/telemetry"
	"github.com/cafu47/streamwall/twitchapi"
	"github.com/cafu47/streamwall/wall"
	"github.com/cafu47/streamwall/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamwall", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		helix   livestreams.Helix
		streams player.StreamSource
		videos  player.VideoLookup
		checks  []server.ReadinessCheck
	)

	// Twitch app access token (client-credentials) backs the proxy; Twitch handles read through it.
	if cfg.TwitchConfigured() {
		ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		hc := twitchapi.NewHelixClient(ts, cfg.HelixRPS)
		helix = hc

		// Best-effort warm-up so the first offline check does not pay for the token.
		ctx2, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := ts.Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()

		checks = append(checks, server.ReadinessCheck{
			Name: "twitch_token",
			Check: func(ctx context.Context) error {
				_, err := ts.Get(ctx)
				return err
			},
		})
	} else {
		slog.Warn("TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET not set; live-streams proxy disabled and offline detection relies on the page")
	}

	if cfg.YTAPIKey != "" {
		yt, err := youtubeapi.New(ctx, cfg.YTAPIKey)
		if err != nil {
			slog.Error("youtube client init failed", slog.Any("err", err))
			os.Exit(1)
		}
		videos = yt
	} else {
		slog.Info("YT_API_KEY not set; youtube videos are only checked for id shape")
	}

	live := livestreams.New(livestreams.Options{
		Helix:    helix,
		CacheTTL: cfg.ProxyCacheTTL,
		Logger:   slog.Default(),
	})

	if live.Configured() {
		streams = livestreams.Streams{Service: live}
	}

	var resolver wall.Resolver = livestreams.Local{Service: live}
	if cfg.ProxyURL != "" {
		resolver = wall.NewProxyClient(cfg.ProxyURL)
		slog.Info("using remote live-streams proxy", slog.String("url", cfg.ProxyURL))
	}

	sessions := server.NewSessions(ctx, server.SessionOptions{
		Wall: wall.Options{
			Home:      cfg.HomeTarget(),
			Family:    cfg.Family(),
			Fallback:  cfg.FallbackChannels,
			NewHandle: player.Factory{Streams: streams, Videos: videos, Logger: slog.Default()}.New,
			Resolver:  resolver,
			Monitor: wall.MonitorOptions{
				Interval:         cfg.StatusCheckInterval,
				InitialDelay:     cfg.StatusInitialDelay,
				OfflineThreshold: cfg.StatusOfflineThreshold,
			},
			HomeRecheck:  cfg.HomeRecheckInterval,
			EmbedParents: cfg.EmbedParents,
		},
		HideChatMobile: cfg.MobileHideChat,
		IdleTTL:        cfg.SessionIdleTTL,
		Logger:         slog.Default(),
	})
	defer sessions.Close()

	slog.Info("stream wall configured",
		slog.String("home", cfg.HomeTarget().String()),
		slog.Any("family", cfg.Family()),
		slog.Bool("proxy", live.Configured()),
		slog.Bool("youtube_api", videos != nil))

	handlers := server.NewHandlers(ctx, live, sessions, checks...)
	if err := server.Start(ctx, server.NewMux(cfg, handlers), cfg.HTTPAddr); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		stop()
	}
	<-ctx.Done()
	slog.Info("shutting down")
}
