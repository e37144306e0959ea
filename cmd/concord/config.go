package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// config holds every setting a running node needs. Flags, a config file,
// and environment variables (CONCORD_<FLAG_NAME>, dashes to underscores)
// all feed the same keys; precedence is flag > env > file > default.
type config struct {
	Mode string

	NodeID       string
	BindAddr     string
	ClientAddr   string
	InternalAddr string
	HealthAddr   string
	DataDir      string

	LogLevel string
	LogJSON  bool

	AuthSecret      string
	ClusterIdentity string
	LocalDC         string

	Join      string
	JoinToken string

	EphemeralTTL         time.Duration
	SessionSweepInterval time.Duration
	HistoryRetention     int
	MaxContentSize       int

	RedisAddr   string
	RedisPrefix string

	SampleInterval     time.Duration
	VerifyInterval     time.Duration
	TombstoneRetention time.Duration
	SuspiciousAfter    int
	DownAfter          int
}

func defaultConfig() config {
	return config{
		Mode:                 "all",
		NodeID:               "node-1",
		BindAddr:             "127.0.0.1:7946",
		ClientAddr:           "127.0.0.1:8848",
		InternalAddr:         "127.0.0.1:8849",
		HealthAddr:           "127.0.0.1:8850",
		DataDir:              "./concord-data",
		LogLevel:             "info",
		LogJSON:              false,
		AuthSecret:           "change-me",
		ClusterIdentity:      "concord-cluster",
		LocalDC:              "dc1",
		EphemeralTTL:         15 * time.Second,
		SessionSweepInterval: 5 * time.Second,
		HistoryRetention:     50,
		MaxContentSize:       10 << 20,
		RedisPrefix:          "concord",
		SampleInterval:       10 * time.Second,
		VerifyInterval:       30 * time.Second,
		TombstoneRetention:   24 * time.Hour,
		SuspiciousAfter:      3,
		DownAfter:            8,
	}
}

// loadConfigFile parses a flat KEY=value file, one setting per line. `#`
// starts a comment; blank lines are ignored. Keys match the server
// command's long flag names.
func loadConfigFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return values, nil
}

func envKey(key string) string {
	return "CONCORD_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// resolveString applies the flag > env > file > default precedence for
// one string-valued setting.
func resolveString(cmd *cobra.Command, file map[string]string, key, fallback string) string {
	if cmd.Flags().Changed(key) {
		v, _ := cmd.Flags().GetString(key)
		return v
	}
	if v, ok := os.LookupEnv(envKey(key)); ok {
		return v
	}
	if v, ok := file[key]; ok {
		return v
	}
	return fallback
}

func resolveBool(cmd *cobra.Command, file map[string]string, key string, fallback bool) bool {
	if cmd.Flags().Changed(key) {
		v, _ := cmd.Flags().GetBool(key)
		return v
	}
	if v, ok := os.LookupEnv(envKey(key)); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	if v, ok := file[key]; ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func resolveInt(cmd *cobra.Command, file map[string]string, key string, fallback int) int {
	if cmd.Flags().Changed(key) {
		v, _ := cmd.Flags().GetInt(key)
		return v
	}
	if v, ok := os.LookupEnv(envKey(key)); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	if v, ok := file[key]; ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func resolveDuration(cmd *cobra.Command, file map[string]string, key string, fallback time.Duration) time.Duration {
	if cmd.Flags().Changed(key) {
		v, _ := cmd.Flags().GetDuration(key)
		return v
	}
	if v, ok := os.LookupEnv(envKey(key)); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	if v, ok := file[key]; ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return fallback
}

// loadConfig builds a config from cmd's flags, the file at --config (if
// any), and environment overrides, seeded with defaultConfig.
func loadConfig(cmd *cobra.Command) (config, error) {
	def := defaultConfig()

	configPath, _ := cmd.Flags().GetString("config")
	file, err := loadConfigFile(configPath)
	if err != nil {
		return config{}, err
	}

	cfg := config{
		Mode:                 resolveString(cmd, file, "mode", def.Mode),
		NodeID:               resolveString(cmd, file, "node-id", def.NodeID),
		BindAddr:             resolveString(cmd, file, "bind-addr", def.BindAddr),
		ClientAddr:           resolveString(cmd, file, "client-addr", def.ClientAddr),
		InternalAddr:         resolveString(cmd, file, "internal-addr", def.InternalAddr),
		HealthAddr:           resolveString(cmd, file, "health-addr", def.HealthAddr),
		DataDir:              resolveString(cmd, file, "data-dir", def.DataDir),
		LogLevel:             resolveString(cmd, file, "log-level", def.LogLevel),
		LogJSON:              resolveBool(cmd, file, "log-json", def.LogJSON),
		AuthSecret:           resolveString(cmd, file, "auth-secret", def.AuthSecret),
		ClusterIdentity:      resolveString(cmd, file, "cluster-identity", def.ClusterIdentity),
		LocalDC:              resolveString(cmd, file, "local-dc", def.LocalDC),
		Join:                 resolveString(cmd, file, "join", def.Join),
		JoinToken:            resolveString(cmd, file, "join-token", def.JoinToken),
		EphemeralTTL:         resolveDuration(cmd, file, "ephemeral-ttl", def.EphemeralTTL),
		SessionSweepInterval: resolveDuration(cmd, file, "session-sweep-interval", def.SessionSweepInterval),
		HistoryRetention:     resolveInt(cmd, file, "history-retention", def.HistoryRetention),
		MaxContentSize:       resolveInt(cmd, file, "max-content-size", def.MaxContentSize),
		RedisAddr:            resolveString(cmd, file, "redis-addr", def.RedisAddr),
		RedisPrefix:          resolveString(cmd, file, "redis-prefix", def.RedisPrefix),
		SampleInterval:       resolveDuration(cmd, file, "sample-interval", def.SampleInterval),
		VerifyInterval:       resolveDuration(cmd, file, "verify-interval", def.VerifyInterval),
		TombstoneRetention:   resolveDuration(cmd, file, "tombstone-retention", def.TombstoneRetention),
		SuspiciousAfter:      resolveInt(cmd, file, "suspicious-after", def.SuspiciousAfter),
		DownAfter:            resolveInt(cmd, file, "down-after", def.DownAfter),
	}

	switch cfg.Mode {
	case "all", "server-only", "console-only", "standalone":
	default:
		return config{}, fmt.Errorf("invalid --mode %q: must be one of all, server-only, console-only, standalone", cfg.Mode)
	}

	return cfg, nil
}
