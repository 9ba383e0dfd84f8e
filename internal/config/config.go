package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Room        RoomConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Addr      string
	StaticDir string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type RoomConfig struct {
	Lifetime         time.Duration
	HeartbeatTimeout time.Duration
	MaxParticipants  int
	FetchLimit       int
}

type RateLimitConfig struct {
	RPS   int
	Burst int
}

// Load reads configuration from EPHEMCHAT_* environment variables with
// sensible defaults for a single-binary deployment.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("ephemchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", "static")
	v.SetDefault("database.driver", "sqlite3")
	// _busy_timeout mirrors the 5s busy handler the embedded store needs
	// when a poll and a send land together.
	v.SetDefault("database.dsn", "file:chats.db?_busy_timeout=5000")
	v.SetDefault("room.lifetime", 24*time.Hour)
	v.SetDefault("room.heartbeat_timeout", 30*time.Second)
	v.SetDefault("room.max_participants", 2)
	v.SetDefault("room.fetch_limit", 100)
	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)

	return &Config{
		Environment: v.GetString("environment"),
		Server: ServerConfig{
			Addr:      v.GetString("server.addr"),
			StaticDir: v.GetString("server.static_dir"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Room: RoomConfig{
			Lifetime:         v.GetDuration("room.lifetime"),
			HeartbeatTimeout: v.GetDuration("room.heartbeat_timeout"),
			MaxParticipants:  v.GetInt("room.max_participants"),
			FetchLimit:       v.GetInt("room.fetch_limit"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetInt("ratelimit.rps"),
			Burst: v.GetInt("ratelimit.burst"),
		},
	}
}
