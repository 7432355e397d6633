package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file,
// then overlaid with environment variables (environment always wins).
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	Lastfm  LastfmConfig  `toml:"lastfm"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// LastfmConfig contains Last.fm API credentials and the default account.
type LastfmConfig struct {
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	SessionKey string `toml:"session_key"`
	Username   string `toml:"username"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SyncConfig contains batch sizing for remote calls, imports, matching and
// like synchronization, plus per-service API batch overrides.
type SyncConfig struct {
	APIBatchSize    int            `toml:"api_batch_size"`
	ImportBatchSize int            `toml:"import_batch_size"`
	MatchBatchSize  int            `toml:"match_batch_size"`
	SyncBatchSize   int            `toml:"sync_batch_size"`
	ServiceAPISizes map[string]int `toml:"service_api_sizes"`
}

// APIBatchSizeFor returns the API batch size for a service, honoring the
// per-service override when one is configured.
func (s SyncConfig) APIBatchSizeFor(service string) int {
	if n, ok := s.ServiceAPISizes[strings.ToLower(service)]; ok && n > 0 {
		return n
	}
	return s.APIBatchSize
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv overlays environment variables onto the config. A .env file in the
// working directory is loaded first when present (never overriding variables
// already exported). Recognized keys:
//
//	SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET, SPOTIFY_REDIRECT_URI
//	LASTFM_API_KEY, LASTFM_API_SECRET, LASTFM_SESSION_KEY, LASTFM_USERNAME
//	DATABASE_PATH
//	DEFAULT_API_BATCH_SIZE, DEFAULT_IMPORT_BATCH_SIZE,
//	DEFAULT_MATCH_BATCH_SIZE, DEFAULT_SYNC_BATCH_SIZE,
//	<SERVICE>_API_BATCH_SIZE (e.g. SPOTIFY_API_BATCH_SIZE)
func (c *Config) LoadEnv() {
	_ = godotenv.Load()

	setString(&c.Credentials.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	setString(&c.Credentials.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	setString(&c.Credentials.Spotify.RedirectURI, "SPOTIFY_REDIRECT_URI")
	setString(&c.Credentials.Lastfm.APIKey, "LASTFM_API_KEY")
	setString(&c.Credentials.Lastfm.APISecret, "LASTFM_API_SECRET")
	setString(&c.Credentials.Lastfm.SessionKey, "LASTFM_SESSION_KEY")
	setString(&c.Credentials.Lastfm.Username, "LASTFM_USERNAME")
	setString(&c.Database.Path, "DATABASE_PATH")

	setInt(&c.Sync.APIBatchSize, "DEFAULT_API_BATCH_SIZE")
	setInt(&c.Sync.ImportBatchSize, "DEFAULT_IMPORT_BATCH_SIZE")
	setInt(&c.Sync.MatchBatchSize, "DEFAULT_MATCH_BATCH_SIZE")
	setInt(&c.Sync.SyncBatchSize, "DEFAULT_SYNC_BATCH_SIZE")

	if c.Sync.ServiceAPISizes == nil {
		c.Sync.ServiceAPISizes = map[string]int{}
	}
	for _, service := range []string{"spotify", "lastfm"} {
		key := strings.ToUpper(service) + "_API_BATCH_SIZE"
		if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
			c.Sync.ServiceAPISizes[service] = v
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		*dst = v
	}
}
