// Package config loads tmatebot's settings from the config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Maiori44/tmatebot/paths"
)

// EnvPrefix prefixes every environment override, e.g. TMATEBOT_LISTEN_ADDR.
const EnvPrefix = "TMATEBOT"

// Defaults applied to settings left unset by both the file and the environment.
const (
	DefaultListenAddr       = "127.0.0.1:8650"
	DefaultBinary           = "tmate"
	DefaultLines            = 16
	DefaultChunkSize        = 128
	DefaultTimeout          = 30 * time.Minute
	DefaultMaxTimeout       = 24 * time.Hour
	DefaultCloseGrace       = 2 * time.Second
	DefaultJanitorSchedule  = "@every 1m"
	DefaultSurfaceRetention = time.Hour
)

// DefaultArgs keeps tmate in the foreground.
var DefaultArgs = []string{"-F"}

// Settings holds the bot configuration.
type Settings struct {
	ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`

	// AllowList holds the user ids allowed to talk to the bot.
	AllowList []string `yaml:"allow_list" envconfig:"ALLOW_LIST"`
	// PasswordHash is the bcrypt hash checked on login.
	PasswordHash string `yaml:"password_hash" envconfig:"PASSWORD_HASH"`

	Binary string   `yaml:"binary" envconfig:"BINARY"`
	Args   []string `yaml:"args" envconfig:"ARGS"`

	Lines      int           `yaml:"lines" envconfig:"LINES"`
	ChunkSize  int           `yaml:"chunk_size" envconfig:"CHUNK_SIZE"`
	CloseGrace time.Duration `yaml:"close_grace" envconfig:"CLOSE_GRACE"`

	DefaultTimeout time.Duration `yaml:"default_timeout" envconfig:"DEFAULT_TIMEOUT"`
	MaxTimeout     time.Duration `yaml:"max_timeout" envconfig:"MAX_TIMEOUT"`

	JanitorSchedule string `yaml:"janitor_schedule" envconfig:"JANITOR_SCHEDULE"`
	ReapOrphans     bool   `yaml:"reap_orphans" envconfig:"REAP_ORPHANS"`

	// SurfaceRetention is how long a closed session's output stays viewable.
	SurfaceRetention time.Duration `yaml:"surface_retention" envconfig:"SURFACE_RETENTION"`

	LogPath string `yaml:"log_path" envconfig:"LOG_PATH"`
	Debug   bool   `yaml:"debug" envconfig:"DEBUG"`

	filePath string
}

// Load reads the config file from its standard location, applies the
// environment and defaults, and validates the result.
func Load() (*Settings, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file. A missing file is not an
// error.
func LoadFile(path string) (*Settings, error) {
	s := &Settings{filePath: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyDefaults fills zero values. Defaults are not envconfig tags because
// those would overwrite values from the file.
func (s *Settings) applyDefaults() {
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.Binary == "" {
		s.Binary = DefaultBinary
		if len(s.Args) == 0 {
			s.Args = DefaultArgs
		}
	}
	if s.Lines == 0 {
		s.Lines = DefaultLines
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.CloseGrace == 0 {
		s.CloseGrace = DefaultCloseGrace
	}
	if s.DefaultTimeout == 0 {
		s.DefaultTimeout = DefaultTimeout
	}
	if s.MaxTimeout == 0 {
		s.MaxTimeout = DefaultMaxTimeout
	}
	if s.JanitorSchedule == "" {
		s.JanitorSchedule = DefaultJanitorSchedule
	}
	if s.SurfaceRetention == 0 {
		s.SurfaceRetention = DefaultSurfaceRetention
	}
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	var errs []error
	if s.Lines < 1 {
		errs = append(errs, fmt.Errorf("lines must be positive, got %d", s.Lines))
	}
	if s.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", s.ChunkSize))
	}
	if s.CloseGrace < 0 {
		errs = append(errs, fmt.Errorf("close_grace must not be negative"))
	}
	if s.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("default_timeout must be positive"))
	}
	if s.MaxTimeout < s.DefaultTimeout {
		errs = append(errs, fmt.Errorf("max_timeout (%s) is shorter than default_timeout (%s)", s.MaxTimeout, s.DefaultTimeout))
	}
	if s.SurfaceRetention < 0 {
		errs = append(errs, fmt.Errorf("surface_retention must not be negative"))
	}
	if _, err := cron.ParseStandard(s.JanitorSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid janitor_schedule %q: %w", s.JanitorSchedule, err))
	}
	for _, id := range s.AllowList {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("allow_list contains an empty user id"))
			break
		}
	}
	if s.PasswordHash != "" && !strings.HasPrefix(s.PasswordHash, "$2") {
		errs = append(errs, fmt.Errorf("password_hash is not a bcrypt hash"))
	}
	return errors.Join(errs...)
}

// FilePath returns the file the settings were loaded from.
func (s *Settings) FilePath() string {
	return s.filePath
}

// Save writes the settings to the file they were loaded from.
func (s *Settings) Save() error {
	if s.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	// the file holds the password hash
	return os.WriteFile(s.filePath, data, 0o600)
}
