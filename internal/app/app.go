package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cowatch/cowatch/internal/controller"
	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/metrics"
	"github.com/cowatch/cowatch/internal/repository/channel"
	channelRedis "github.com/cowatch/cowatch/internal/repository/channel/redis"
	"github.com/cowatch/cowatch/internal/repository/connection/inmemory"
	"github.com/cowatch/cowatch/internal/service/room"
	"github.com/cowatch/cowatch/internal/session"
	"github.com/cowatch/cowatch/pkg/ctxlogger"
	"github.com/cowatch/cowatch/pkg/redisclient"
	"github.com/cowatch/cowatch/pkg/validator"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ChannelLayerInmemory = "inmemory"
	ChannelLayerRedis    = "redis"
)

type AppConfig struct {
	Host               string        `json:"host" validate:"required"`
	Port               int           `json:"port" validate:"gte=1,max=65535"`
	LogLevel           string        `json:"log_level" validate:"required"`
	LogPath            string        `json:"log_path"`
	MembersLimit       int           `json:"members_limit" validate:"gte=0"`
	ReplayLastPlayback bool          `json:"replay_last_playback"`
	SendBuffer         int           `json:"send_buffer" validate:"gte=1"`
	ReadLimit          int64         `json:"read_limit" validate:"gte=0"`
	PingPeriod         time.Duration `json:"ping_period" validate:"gte=0"`
	PongWait           time.Duration `json:"pong_wait" validate:"gte=0"`
	WriteWait          time.Duration `json:"write_wait" validate:"gte=0"`
	MessageRate        float64       `json:"message_rate" validate:"gte=0"`
	MessageBurst       int           `json:"message_burst" validate:"gte=0"`
	ChannelLayer       string        `json:"channel_layer" validate:"oneof=inmemory redis"`
	RedisHost          string        `json:"redis_host"`
	RedisPort          int           `json:"redis_port"`
	RedisPassword      string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if validationErrors, ok := validator.NewValidator().Validate(cfg); !ok {
		return fmt.Errorf("invalid config: %v", validationErrors)
	}

	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	if cfg.PingPeriod > 0 && cfg.PongWait > 0 && cfg.PingPeriod >= cfg.PongWait {
		return errors.New("ping period must be shorter than pong wait")
	}

	if cfg.ChannelLayer == ChannelLayerRedis && (cfg.RedisHost == "" || cfg.RedisPort < 1) {
		return errors.New("redis channel layer requires redis host and port")
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

func newLogger(cfg *AppConfig) (*slog.Logger, io.Closer, error) {
	logLevel, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.LogPath != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(h), closer, nil
}

// App is one wired server node.
type App struct {
	cfg         *AppConfig
	logger      *slog.Logger
	hub         *hub.Hub
	roomService interface {
		Run(context.Context) error
		Shutdown(context.Context) int
		NodeId() string
	}
	handler http.Handler
}

func New(cfg *AppConfig, logger *slog.Logger) (*App, error) {
	layer, err := newChannelLayer(cfg, logger)
	if err != nil {
		return nil, err
	}

	return newApp(cfg, layer, logger), nil
}

func newApp(cfg *AppConfig, layer channel.Layer, logger *slog.Logger) *App {
	h := hub.New(&hub.Config{
		MembersLimit:       cfg.MembersLimit,
		ReplayLastPlayback: cfg.ReplayLastPlayback,
	}, logger)

	m := metrics.New(func() (int, int) {
		stats := h.Stats()
		return stats.Rooms, stats.Members
	})

	roomService := room.NewService(h, inmemory.NewRepo(), layer, m, logger)
	controller := controller.NewController(roomService, &session.Config{
		SendBuffer:   cfg.SendBuffer,
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		MessageRate:  cfg.MessageRate,
		MessageBurst: cfg.MessageBurst,
	}, m, logger)

	return &App{
		cfg:         cfg,
		logger:      logger,
		hub:         h,
		roomService: roomService,
		handler:     controller.GetMux(),
	}
}

// newChannelLayer returns nil when the node runs alone.
func newChannelLayer(cfg *AppConfig, logger *slog.Logger) (channel.Layer, error) {
	switch cfg.ChannelLayer {
	case ChannelLayerRedis:
		rc, err := redisclient.NewRedisClient(&redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		return channelRedis.New(rc, logger), nil
	case ChannelLayerInmemory, "":
		return nil, nil
	}

	return nil, fmt.Errorf("unknown channel layer %q", cfg.ChannelLayer)
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) NodeId() string {
	return a.roomService.NodeId()
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := New(cfg, logger)
	if err != nil {
		return err
	}

	return a.Serve(ctx)
}

// Serve listens until a termination signal arrives or ctx is done, then
// shuts the HTTP server down and closes every session.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port), Handler: a.handler}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	go func() {
		if err := a.roomService.Run(serverCtx); err != nil {
			a.logger.ErrorContext(serverCtx, "channel layer stopped", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)

	go func() {
		select {
		case <-sig:
		case <-serverCtx.Done():
		}

		shutdownCtx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.ErrorContext(shutdownCtx, "failed to shut down server", "error", err)
		}
		a.roomService.Shutdown(shutdownCtx)
		serverStopCtx()
	}()

	a.logger.InfoContext(serverCtx, "starting server", "address", server.Addr, "node_id", a.NodeId())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
