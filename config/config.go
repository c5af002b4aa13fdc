package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Settings is the typed view of everything the bot reads from viper.
type Settings struct {
	Bot       BotSettings       `mapstructure:"bot"`
	Database  DatabaseSettings  `mapstructure:"database"`
	Webhook   WebhookSettings   `mapstructure:"webhook"`
	WebDAV    WebDAVSettings    `mapstructure:"webdav"`
	Backup    BackupSettings    `mapstructure:"backup"`
	Scheduler SchedulerSettings `mapstructure:"scheduler"`
	Recovery  RecoverySettings  `mapstructure:"recovery"`
}

// BotSettings covers the Discord session and admin logging.
type BotSettings struct {
	Token          string `mapstructure:"token"`
	AdminChannelID string `mapstructure:"adminchannelid"`
	// NoticeDeleteSeconds is how long enable/disable notices stay up.
	NoticeDeleteSeconds int `mapstructure:"noticedeleteseconds"`
}

// DatabaseSettings covers the SQLite store.
type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

// WebhookSettings covers the license-permission listener.
type WebhookSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// WebDAVSettings covers the remote object store.
type WebDAVSettings struct {
	URL            string `mapstructure:"url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeoutseconds"`
	RetryCount     int    `mapstructure:"retrycount"`
}

// BackupSettings covers attachment filtering and scan bounds.
type BackupSettings struct {
	AllowedExtensions  []string `mapstructure:"allowedextensions"`
	MaxFileSize        int64    `mapstructure:"maxfilesize"`
	MaxHistoryMessages int      `mapstructure:"maxhistorymessages"`
}

// SchedulerSettings covers the scan loop timing.
type SchedulerSettings struct {
	ActiveTickSeconds   int `mapstructure:"activetickseconds"`
	IdleTickSeconds     int `mapstructure:"idletickseconds"`
	PollIntervalSeconds int `mapstructure:"pollintervalseconds"`
}

// RecoverySettings covers the downtime recovery pass.
type RecoverySettings struct {
	SafetyMarginSeconds int `mapstructure:"safetymarginseconds"`
}

// LoadConfig loads configuration from the .env file and config.yaml in
// the working directory. Environment variables override file settings.
func LoadConfig() {
	// Load environment variables from .env, ignore a missing file.
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, skipping.")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Config file not found, using environment variables and defaults.")
		} else {
			panic(fmt.Errorf("fatal error reading config file: %w", err))
		}
	}
}

func setDefaults() {
	viper.SetDefault("bot.noticeDeleteSeconds", 180)
	viper.SetDefault("database.path", "data/penpreserve.db")
	viper.SetDefault("webhook.enabled", true)
	viper.SetDefault("webhook.host", "0.0.0.0")
	viper.SetDefault("webhook.port", 8080)
	viper.SetDefault("webdav.timeoutSeconds", 30)
	viper.SetDefault("webdav.retryCount", 3)
	viper.SetDefault("backup.allowedExtensions", []string{"json", "txt", "md", "png", "jpg", "jpeg", "gif", "webp", "pdf", "zip"})
	viper.SetDefault("backup.maxFileSize", 10*1024*1024)
	viper.SetDefault("backup.maxHistoryMessages", 10000)
	viper.SetDefault("scheduler.activeTickSeconds", 1)
	viper.SetDefault("scheduler.idleTickSeconds", 10)
	viper.SetDefault("scheduler.pollIntervalSeconds", 300)
	viper.SetDefault("recovery.safetyMarginSeconds", 300)
}

// GetSettings decodes the loaded viper state into a Settings struct.
func GetSettings() (*Settings, error) {
	var s Settings
	if err := mapstructure.Decode(viper.AllSettings(), &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	// The token can also arrive as the bare BOT_TOKEN environment variable.
	if s.Bot.Token == "" {
		s.Bot.Token = viper.GetString("BOT_TOKEN")
	}
	return &s, nil
}

// Timing accessors so callers do not multiply seconds in place.

func (s SchedulerSettings) ActiveTick() time.Duration {
	return time.Duration(s.ActiveTickSeconds) * time.Second
}

func (s SchedulerSettings) IdleTick() time.Duration {
	return time.Duration(s.IdleTickSeconds) * time.Second
}

func (s SchedulerSettings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s RecoverySettings) SafetyMargin() time.Duration {
	return time.Duration(s.SafetyMarginSeconds) * time.Second
}

func (s WebDAVSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s BotSettings) NoticeDeleteDelay() time.Duration {
	return time.Duration(s.NoticeDeleteSeconds) * time.Second
}
