package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	JoinPolicyExplicit = "explicit"
	JoinPolicyAuto     = "auto"

	MoveRoutingExplicit   = "explicit"
	MoveRoutingConnection = "connection"

	DisconnectForfeit   = "forfeit"
	DisconnectReconnect = "reconnect"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel   string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	Game       Game   `yaml:"game"`
	Socket     Socket `yaml:"socket"`
	Redis      Redis  `yaml:"redis"`
}

type Game struct {
	JoinPolicy       string        `yaml:"join-policy" env:"JOIN_POLICY" env-default:"auto"`
	MoveRouting      string        `yaml:"move-routing" env:"MOVE_ROUTING" env-default:"connection"`
	DisconnectPolicy string        `yaml:"disconnect-policy" env:"DISCONNECT_POLICY" env-default:"forfeit"`
	ReconnectTimeout time.Duration `yaml:"reconnect-timeout" env:"RECONNECT_TIMEOUT" env-default:"30s"`
	IdleTimeout      time.Duration `yaml:"idle-timeout" env:"IDLE_TIMEOUT" env-default:"10m"`
	ReaperInterval   time.Duration `yaml:"reaper-interval" env:"REAPER_INTERVAL" env-default:"15s"`
	LockTimeout      time.Duration `yaml:"lock-timeout" env:"LOCK_TIMEOUT" env-default:"2s"`
	MaxGames         int           `yaml:"max-games" env:"MAX_GAMES" env-default:"0"`
}

type Socket struct {
	MaxMessageSize int64 `yaml:"max-message-size" env:"SOCKET_MAX_MESSAGE_SIZE" env-default:"4096"`
	SendBuffer     int   `yaml:"send-buffer" env:"SOCKET_SEND_BUFFER" env-default:"32"`
}

type Redis struct {
	Enabled     bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Host        string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port        string        `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	SnapshotTTL time.Duration `yaml:"snapshot-ttl" env:"REDIS_SNAPSHOT_TTL" env-default:"15m"`
}

// MustLoad - load all configurations from the config file and the environment.
// An empty path reads the environment only.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func Load(path string) (*Config, error) {
	config := &Config{}

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(config)
	} else {
		err = cleanenv.ReadConfig(path, config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate - rejects unknown policies and non-positive limits.
func (that *Config) Validate() error {
	switch that.Game.JoinPolicy {
	case JoinPolicyExplicit, JoinPolicyAuto:
	default:
		return fmt.Errorf("%w: join-policy %q", ErrInvalidConfig, that.Game.JoinPolicy)
	}

	switch that.Game.MoveRouting {
	case MoveRoutingExplicit, MoveRoutingConnection:
	default:
		return fmt.Errorf("%w: move-routing %q", ErrInvalidConfig, that.Game.MoveRouting)
	}

	switch that.Game.DisconnectPolicy {
	case DisconnectForfeit, DisconnectReconnect:
	default:
		return fmt.Errorf("%w: disconnect-policy %q", ErrInvalidConfig, that.Game.DisconnectPolicy)
	}

	if that.Game.ReaperInterval <= 0 {
		return fmt.Errorf("%w: reaper-interval must be positive", ErrInvalidConfig)
	}

	if that.Game.MaxGames < 0 {
		return fmt.Errorf("%w: max-games must not be negative", ErrInvalidConfig)
	}

	if that.Socket.MaxMessageSize <= 0 || that.Socket.SendBuffer <= 0 {
		return fmt.Errorf("%w: socket limits must be positive", ErrInvalidConfig)
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
