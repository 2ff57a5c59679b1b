package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cowatch/cowatch/internal/agent"
	"github.com/cowatch/cowatch/internal/player"
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/pkg/ctxlogger"
	"github.com/cowatch/cowatch/pkg/ytvideodata"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	serverURL = configVar[string]{
		envKey:       "AGENT_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "ws://localhost:8000",
	}
	roomId = configVar[string]{
		envKey:       "AGENT_ROOM",
		flagKey:      "room",
		defaultValue: "",
	}
	name = configVar[string]{
		envKey:       "AGENT_NAME",
		flagKey:      "name",
		defaultValue: "",
	}
	video = configVar[string]{
		envKey:       "AGENT_VIDEO",
		flagKey:      "video",
		defaultValue: "",
	}
	resolveVideo = configVar[bool]{
		envKey:       "AGENT_RESOLVE_VIDEO",
		flagKey:      "resolve-video",
		defaultValue: false,
	}
	logLevel = configVar[string]{
		envKey:       "AGENT_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "WARN",
	}
	reconnectAttempts = configVar[int]{
		envKey:       "AGENT_RECONNECT_ATTEMPTS",
		flagKey:      "reconnect-attempts",
		defaultValue: 0,
	}
	echoWindow = configVar[time.Duration]{
		envKey:       "AGENT_ECHO_WINDOW",
		flagKey:      "echo-window",
		defaultValue: player.DefaultEchoWindow,
	}
)

type config struct {
	ServerURL         string
	RoomId            string
	Name              string
	Video             string
	ResolveVideo      bool
	LogLevel          string
	ReconnectAttempts int
	EchoWindow        time.Duration
}

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadConfig() *config {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, "Room server websocket base URL")
	pflag.String(roomId.flagKey, roomId.defaultValue, "Room to open")
	pflag.String(name.flagKey, name.defaultValue, "Display name")
	pflag.String(video.flagKey, video.defaultValue, "YouTube URL or id to load into the player")
	pflag.Bool(resolveVideo.flagKey, resolveVideo.defaultValue, "Look up the video title before loading")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Int(reconnectAttempts.flagKey, reconnectAttempts.defaultValue, "Re-dials after an unexpected close, 0 disables reconnection")
	pflag.Duration(echoWindow.flagKey, echoWindow.defaultValue, "How long a remotely applied state change is not sent back")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(serverURL)
	bind(roomId)
	bind(name)
	bind(video)
	bind(resolveVideo)
	bind(logLevel)
	bind(reconnectAttempts)
	bind(echoWindow)

	return &config{
		ServerURL:         viper.GetString(serverURL.flagKey),
		RoomId:            viper.GetString(roomId.flagKey),
		Name:              viper.GetString(name.flagKey),
		Video:             viper.GetString(video.flagKey),
		ResolveVideo:      viper.GetBool(resolveVideo.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		ReconnectAttempts: viper.GetInt(reconnectAttempts.flagKey),
		EchoWindow:        viper.GetDuration(echoWindow.flagKey),
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}),
	}

	return slog.New(h), nil
}

func loadVideo(ctx context.Context, cfg *config, binding *player.Binding, logger *slog.Logger) error {
	ref := cfg.Video
	if cfg.ResolveVideo {
		data, err := ytvideodata.NewClient().Get(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to resolve video: %w", err)
		}

		logger.InfoContext(ctx, "video resolved", "video_id", data.VideoId, "title", data.Title)
		fmt.Printf("* loaded %q by %s\n", data.Title, data.AuthorName)
		ref = data.VideoId
	}

	return binding.Load(ref)
}

// runCommand handles one line of input and reports whether to keep going.
func runCommand(line string, a *agent.Agent, sim *player.Simulated) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

	var err error
	switch cmd {
	case "":
		return true
	case "/quit":
		return false
	case "/play":
		err = sim.Play()
	case "/pause":
		err = sim.Pause()
	case "/seek":
		var at float64
		at, err = strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err == nil {
			if err = sim.SeekTo(at); err == nil {
				err = a.Seek(at)
			}
		}
	case "/status":
		fmt.Printf("* %s, %s at %.1fs\n", a.Status(), sim.State(), sim.CurrentTime())
	default:
		err = a.SendChat(line, "")
	}

	if err != nil {
		fmt.Printf("! %v\n", err)
	}

	return true
}

func main() {
	cfg := loadConfig()
	if cfg.RoomId == "" {
		log.Fatal("--room is required")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", cfg.RoomId))

	sim := player.NewSimulated()
	binding := player.NewBinding(sim, cfg.EchoWindow, logger)
	sim.SetEvents(binding)

	agentCfg := agent.DefaultConfig()
	agentCfg.ServerURL = cfg.ServerURL
	agentCfg.Name = cfg.Name
	agentCfg.ReconnectAttempts = cfg.ReconnectAttempts

	a := agent.New(agentCfg, binding, logger)
	binding.SetListener(a)
	a.OnStatusChange(func(s agent.Status) {
		fmt.Printf("* %s\n", s)
	})
	a.OnChat(func(c protocol.Chat) {
		fmt.Printf("%s: %s\n", c.Sender, c.Text)
	})

	if cfg.Video != "" {
		if err := loadVideo(ctx, cfg, binding, logger); err != nil {
			log.Fatal(err)
		}
	}

	if err := a.Open(cfg.RoomId); err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !runCommand(line, a, sim) {
				return
			}
		}
	}
}
