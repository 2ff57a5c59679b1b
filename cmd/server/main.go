package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cowatch/cowatch/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	logPath = configVar[string]{
		envKey:       "SERVER_LOG_PATH",
		flagKey:      "log-path",
		defaultValue: "",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8000,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	membersLimit = configVar[int]{
		envKey:       "SERVER_MEMBERS_LIMIT",
		flagKey:      "members-limit",
		defaultValue: 50,
	}
	replayLastPlayback = configVar[bool]{
		envKey:       "SERVER_REPLAY_LAST_PLAYBACK",
		flagKey:      "replay-last-playback",
		defaultValue: false,
	}
	sendBuffer = configVar[int]{
		envKey:       "SERVER_SEND_BUFFER",
		flagKey:      "send-buffer",
		defaultValue: 64,
	}
	readLimit = configVar[int64]{
		envKey:       "SERVER_READ_LIMIT",
		flagKey:      "read-limit",
		defaultValue: 4096,
	}
	pingPeriod = configVar[time.Duration]{
		envKey:       "SERVER_PING_PERIOD",
		flagKey:      "ping-period",
		defaultValue: 54 * time.Second,
	}
	pongWait = configVar[time.Duration]{
		envKey:       "SERVER_PONG_WAIT",
		flagKey:      "pong-wait",
		defaultValue: 60 * time.Second,
	}
	writeWait = configVar[time.Duration]{
		envKey:       "SERVER_WRITE_WAIT",
		flagKey:      "write-wait",
		defaultValue: 10 * time.Second,
	}
	messageRate = configVar[float64]{
		envKey:       "SERVER_MESSAGE_RATE",
		flagKey:      "message-rate",
		defaultValue: 0,
	}
	messageBurst = configVar[int]{
		envKey:       "SERVER_MESSAGE_BURST",
		flagKey:      "message-burst",
		defaultValue: 20,
	}
	channelLayer = configVar[string]{
		envKey:       "SERVER_CHANNEL_LAYER",
		flagKey:      "channel-layer",
		defaultValue: app.ChannelLayerInmemory,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(logPath.flagKey, logPath.defaultValue, "Rotated log file path, empty for stdout only")
	pflag.Int(membersLimit.flagKey, membersLimit.defaultValue, "Maximum number of members in a room, 0 for unlimited")
	pflag.Bool(replayLastPlayback.flagKey, replayLastPlayback.defaultValue, "Send the last playback command of a room to members who join")
	pflag.Int(sendBuffer.flagKey, sendBuffer.defaultValue, "Outbound frames queued per session")
	pflag.Int64(readLimit.flagKey, readLimit.defaultValue, "Maximum inbound frame size in bytes")
	pflag.Duration(pingPeriod.flagKey, pingPeriod.defaultValue, "Interval between pings")
	pflag.Duration(pongWait.flagKey, pongWait.defaultValue, "Time allowed to read the next pong")
	pflag.Duration(writeWait.flagKey, writeWait.defaultValue, "Time allowed to write a frame")
	pflag.Float64(messageRate.flagKey, messageRate.defaultValue, "Inbound frames per second per session, 0 for unlimited")
	pflag.Int(messageBurst.flagKey, messageBurst.defaultValue, "Inbound frame burst per session")
	pflag.String(channelLayer.flagKey, channelLayer.defaultValue, "Channel layer: inmemory or redis")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(port)
	bind(host)
	bind(logLevel)
	bind(logPath)
	bind(membersLimit)
	bind(replayLastPlayback)
	bind(sendBuffer)
	bind(readLimit)
	bind(pingPeriod)
	bind(pongWait)
	bind(writeWait)
	bind(messageRate)
	bind(messageBurst)
	bind(channelLayer)
	bind(redisPort)
	bind(redisHost)
	bind(redisPassword)

	config := &app.AppConfig{
		Host:               viper.GetString(host.flagKey),
		Port:               viper.GetInt(port.flagKey),
		LogLevel:           viper.GetString(logLevel.flagKey),
		LogPath:            viper.GetString(logPath.flagKey),
		MembersLimit:       viper.GetInt(membersLimit.flagKey),
		ReplayLastPlayback: viper.GetBool(replayLastPlayback.flagKey),
		SendBuffer:         viper.GetInt(sendBuffer.flagKey),
		ReadLimit:          viper.GetInt64(readLimit.flagKey),
		PingPeriod:         viper.GetDuration(pingPeriod.flagKey),
		PongWait:           viper.GetDuration(pongWait.flagKey),
		WriteWait:          viper.GetDuration(writeWait.flagKey),
		MessageRate:        viper.GetFloat64(messageRate.flagKey),
		MessageBurst:       viper.GetInt(messageBurst.flagKey),
		ChannelLayer:       viper.GetString(channelLayer.flagKey),
		RedisPort:          viper.GetInt(redisPort.flagKey),
		RedisHost:          viper.GetString(redisHost.flagKey),
		RedisPassword:      viper.GetString(redisPassword.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
