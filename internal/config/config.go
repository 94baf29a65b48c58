package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"suits/internal/models"
)

const (
	NetworkLocalnet = "localnet"

	DefaultNetwork        = NetworkLocalnet
	DefaultRPCURL         = "https://fullnode.testnet.sui.io:443"
	DefaultGatewayURL     = "https://walrus-testnet.storage.mystenlabs.com/blob"
	DefaultLocalPackageID = "0x5017"
	DefaultLogLevel       = "info"
	DefaultLocalnetDB     = ".suits-localnet.db"
	DefaultBlobRoot       = ".suits-blobs"
	DefaultGatewayAddr    = "127.0.0.1:7334"

	DefaultBlobEpochs              = 5
	DefaultBlobMaxBytes   ByteSize = 10 * 1024 * 1024
	DefaultFeedPageSize            = 20
	DefaultFetchConcurrency        = 8
	DefaultChannelsInterval        = 5 * time.Second
	DefaultMessagesInterval        = 3 * time.Second
	DefaultFeedInterval            = 10 * time.Second

	configFileName           = ".suits.toml"
	configDirEnvKey          = "SUITS_CONFIG_DIR"
	trustProjectConfigEnvKey = "SUITS_TRUST_PROJECT_CONFIG"
)

// ByteSize is a size in bytes. In TOML it may be an integer or a
// humanized string such as "10MiB".
type ByteSize int64

func (b *ByteSize) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case int64:
		*b = ByteSize(value)
		return nil
	case string:
		parsed, err := ParseByteSize(value)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	default:
		return fmt.Errorf("invalid size %v", v)
	}
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseByteSize parses "1048576", "1MiB" or "1 MB".
func ParseByteSize(raw string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	return ByteSize(n), nil
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BlobConfig controls blob publishing.
type BlobConfig struct {
	Epochs   uint64   `toml:"epochs"`
	MaxBytes ByteSize `toml:"max_bytes"`
}

// FeedConfig controls registry reads.
type FeedConfig struct {
	PageSize         int `toml:"page_size"`
	FetchConcurrency int `toml:"fetch_concurrency"`
}

// PollConfig sets the refresh cadence of watched resources.
type PollConfig struct {
	ChannelsInterval Duration `toml:"channels_interval"`
	MessagesInterval Duration `toml:"messages_interval"`
	FeedInterval     Duration `toml:"feed_interval"`
}

// ChatConfig controls channel policy.
type ChatConfig struct {
	DedupeChannels bool `toml:"dedupe_channels"`
}

// Config defines runtime configuration for suits.
type Config struct {
	Network      string     `toml:"network"`
	RPCURL       string     `toml:"rpc_url"`
	Account      string     `toml:"account"`
	PackageID    string     `toml:"package_id"`
	RegistryID   string     `toml:"registry_id"`
	ClockID      string     `toml:"clock_id"`
	BlobSystemID string     `toml:"blob_system_id"`
	GatewayURL   string     `toml:"gateway_url"`
	LocalnetDB   string     `toml:"localnet_db"`
	BlobRoot     string     `toml:"blob_root"`
	LogLevel     string     `toml:"log_level"`
	MetricsAddr  string     `toml:"metrics_addr"`
	Blob         BlobConfig `toml:"blob"`
	Feed         FeedConfig `toml:"feed"`
	Poll         PollConfig `toml:"poll"`
	Chat         ChatConfig `toml:"chat"`

	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Network:    DefaultNetwork,
		RPCURL:     DefaultRPCURL,
		PackageID:  DefaultLocalPackageID,
		ClockID:    models.DefaultClockID,
		GatewayURL: DefaultGatewayURL,
		LogLevel:   DefaultLogLevel,
		Blob: BlobConfig{
			Epochs:   DefaultBlobEpochs,
			MaxBytes: DefaultBlobMaxBytes,
		},
		Feed: FeedConfig{
			PageSize:         DefaultFeedPageSize,
			FetchConcurrency: DefaultFetchConcurrency,
		},
		Poll: PollConfig{
			ChannelsInterval: Duration(DefaultChannelsInterval),
			MessagesInterval: Duration(DefaultMessagesInterval),
			FeedInterval:     Duration(DefaultFeedInterval),
		},
	}
}

// IsLocalnet reports whether commands run against the embedded ledger.
func (c *Config) IsLocalnet() bool {
	return c.Network == "" || c.Network == NetworkLocalnet
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"network",
	"rpc_url",
	"account",
	"package_id",
	"registry_id",
	"clock_id",
	"blob_system_id",
	"gateway_url",
	"localnet_db",
	"blob_root",
	"log_level",
	"metrics_addr",
	"blob.epochs",
	"blob.max_bytes",
	"feed.page_size",
	"feed.fetch_concurrency",
	"poll.channels_interval",
	"poll.messages_interval",
	"poll.feed_interval",
	"chat.dedupe_channels",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "network":
		return c.Network, nil
	case "rpc_url":
		return c.RPCURL, nil
	case "account":
		return c.Account, nil
	case "package_id":
		return c.PackageID, nil
	case "registry_id":
		return c.RegistryID, nil
	case "clock_id":
		return c.ClockID, nil
	case "blob_system_id":
		return c.BlobSystemID, nil
	case "gateway_url":
		return c.GatewayURL, nil
	case "localnet_db":
		return c.LocalnetDB, nil
	case "blob_root":
		return c.BlobRoot, nil
	case "log_level":
		return c.LogLevel, nil
	case "metrics_addr":
		return c.MetricsAddr, nil
	case "blob.epochs":
		return strconv.FormatUint(c.Blob.Epochs, 10), nil
	case "blob.max_bytes":
		return c.Blob.MaxBytes.String(), nil
	case "feed.page_size":
		return strconv.Itoa(c.Feed.PageSize), nil
	case "feed.fetch_concurrency":
		return strconv.Itoa(c.Feed.FetchConcurrency), nil
	case "poll.channels_interval":
		return c.Poll.ChannelsInterval.Std().String(), nil
	case "poll.messages_interval":
		return c.Poll.MessagesInterval.Std().String(), nil
	case "poll.feed_interval":
		return c.Poll.FeedInterval.Std().String(), nil
	case "chat.dedupe_channels":
		return strconv.FormatBool(c.Chat.DedupeChannels), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	applyEnv(&cfg)
	cfg.normalize()

	if cfg.Account != "" {
		account, err := models.NormalizeAddress(cfg.Account)
		if err != nil {
			return nil, fmt.Errorf("account: %w", err)
		}
		cfg.Account = account
	}

	return &cfg, nil
}

var envOverrides = []struct {
	key   string
	field func(*Config) *string
}{
	{"SUITS_NETWORK", func(c *Config) *string { return &c.Network }},
	{"SUITS_RPC_URL", func(c *Config) *string { return &c.RPCURL }},
	{"SUITS_ACCOUNT", func(c *Config) *string { return &c.Account }},
	{"SUITS_PACKAGE_ID", func(c *Config) *string { return &c.PackageID }},
	{"SUITS_REGISTRY_ID", func(c *Config) *string { return &c.RegistryID }},
	{"SUITS_GATEWAY_URL", func(c *Config) *string { return &c.GatewayURL }},
	{"SUITS_LOCALNET_DB", func(c *Config) *string { return &c.LocalnetDB }},
	{"SUITS_BLOB_ROOT", func(c *Config) *string { return &c.BlobRoot }},
	{"SUITS_METRICS_ADDR", func(c *Config) *string { return &c.MetricsAddr }},
}

func applyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.field(cfg) = v
		}
	}
}

func (c *Config) normalize() {
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ClockID == "" {
		c.ClockID = models.DefaultClockID
	}
	if c.BlobSystemID == "" {
		c.BlobSystemID = c.PackageID
	}
	if c.GatewayURL == "" {
		c.GatewayURL = DefaultGatewayURL
	}
	if c.LocalnetDB == "" || c.BlobRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			if c.LocalnetDB == "" {
				c.LocalnetDB = filepath.Join(cwd, DefaultLocalnetDB)
			}
			if c.BlobRoot == "" {
				c.BlobRoot = filepath.Join(cwd, DefaultBlobRoot)
			}
		}
	}
	if c.Blob.Epochs == 0 {
		c.Blob.Epochs = DefaultBlobEpochs
	}
	if c.Blob.MaxBytes <= 0 {
		c.Blob.MaxBytes = DefaultBlobMaxBytes
	}
	if c.Feed.PageSize <= 0 {
		c.Feed.PageSize = DefaultFeedPageSize
	}
	if c.Feed.FetchConcurrency <= 0 {
		c.Feed.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Poll.ChannelsInterval <= 0 {
		c.Poll.ChannelsInterval = Duration(DefaultChannelsInterval)
	}
	if c.Poll.MessagesInterval <= 0 {
		c.Poll.MessagesInterval = Duration(DefaultMessagesInterval)
	}
	if c.Poll.FeedInterval <= 0 {
		c.Poll.FeedInterval = Duration(DefaultFeedInterval)
	}
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "blob.epochs", "feed.page_size", "feed.fetch_concurrency":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "blob.max_bytes":
		parsed, err := ParseByteSize(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive size such as 10MiB", key)
		}
		return int64(parsed), nil
	case "poll.channels_interval", "poll.messages_interval", "poll.feed_interval":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 5s", key)
		}
		return parsed.String(), nil
	case "chat.dedupe_channels":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "account":
		return models.NormalizeAddress(value)
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
