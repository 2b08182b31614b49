// Package config loads, normalizes and atomically saves updater settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeFilesOnly = "files-only"
	ModeFull      = "full"

	EnvPrefix         = "UPDATR"
	MinRefreshSeconds = 10
	fileName          = "settings.json"
)

// Settings is the persisted configuration. It is loaded once at startup and
// only written back by an explicit Save.
type Settings struct {
	RepoPath           string   `json:"repo_path" mapstructure:"repo_path"`
	AutoRefreshSeconds int      `json:"auto_refresh_seconds" mapstructure:"auto_refresh_seconds"`
	InstallerMode      string   `json:"installer_mode" mapstructure:"installer_mode"`
	UsePTY             bool     `json:"use_pty" mapstructure:"use_pty"`
	ForceColorEnv      bool     `json:"force_color_env" mapstructure:"force_color_env"`
	SendNotifications  bool     `json:"send_notifications" mapstructure:"send_notifications"`
	LogMaxLines        int      `json:"log_max_lines" mapstructure:"log_max_lines"`
	PostInstallScript  string   `json:"post_install_script" mapstructure:"post_install_script"`
	GitTimeoutSeconds  int      `json:"git_timeout_seconds" mapstructure:"git_timeout_seconds"`
	TranscriptDir      string   `json:"transcript_dir" mapstructure:"transcript_dir"`
	HistoryDSN         string   `json:"history_dsn" mapstructure:"history_dsn"`
	Listen             string   `json:"listen" mapstructure:"listen"`
	LogLevel           string   `json:"log_level" mapstructure:"log_level"`
	Env                []string `json:"env" mapstructure:"env"`
	EnvFiles           []string `json:"env_files" mapstructure:"env_files"`
}

func Defaults() Settings {
	return Settings{
		RepoPath:           "~/dots-hyprland",
		AutoRefreshSeconds: 60,
		InstallerMode:      ModeFilesOnly,
		UsePTY:             true,
		ForceColorEnv:      true,
		SendNotifications:  true,
		LogMaxLines:        5000,
		GitTimeoutSeconds:  15,
		Listen:             "127.0.0.1:8089",
		LogLevel:           "info",
		Env:                []string{},
		EnvFiles:           []string{},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/updatr/settings.json, falling back to
// ~/.config/updatr/settings.json.
func DefaultPath() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "updatr", fileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", "updatr", fileName), nil
}

// Keys lists every settings key in file order.
func Keys() []string {
	m := defaultsMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func defaultsMap() map[string]any {
	b, _ := json.Marshal(Defaults())
	m := map[string]any{}
	_ = json.Unmarshal(b, &m)
	return m
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	for k, val := range defaultsMap() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads path over the defaults and applies UPDATR_* environment
// overrides. A missing file yields defaults. Unknown keys are ignored.
// On a parse error the defaults are returned together with the error.
func Load(path string) (Settings, error) {
	v := newViper()
	var readErr error
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				readErr = fmt.Errorf("read settings %s: %w", path, err)
				v = newViper()
			}
		} else if !os.IsNotExist(err) {
			return Defaults(), fmt.Errorf("stat settings %s: %w", path, err)
		}
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Defaults(), fmt.Errorf("decode settings: %w", err)
	}
	s.Validate()
	return s, readErr
}

// Validate clamps out-of-range values to usable ones and returns a note for
// every correction made.
func (s *Settings) Validate() []string {
	var notes []string
	d := Defaults()
	fix := func(format string, a ...any) { notes = append(notes, fmt.Sprintf(format, a...)) }

	if strings.TrimSpace(s.RepoPath) == "" {
		s.RepoPath = d.RepoPath
		fix("repo_path empty, using %s", d.RepoPath)
	}
	switch {
	case s.AutoRefreshSeconds < 0:
		fix("auto_refresh_seconds %d < 0, disabling", s.AutoRefreshSeconds)
		s.AutoRefreshSeconds = 0
	case s.AutoRefreshSeconds > 0 && s.AutoRefreshSeconds < MinRefreshSeconds:
		fix("auto_refresh_seconds %d below minimum, using %d", s.AutoRefreshSeconds, MinRefreshSeconds)
		s.AutoRefreshSeconds = MinRefreshSeconds
	}
	mode := strings.ToLower(strings.TrimSpace(s.InstallerMode))
	mode = strings.ReplaceAll(mode, "_", "-")
	if mode != ModeFilesOnly && mode != ModeFull {
		fix("installer_mode %q unknown, using %s", s.InstallerMode, ModeFilesOnly)
		mode = ModeFilesOnly
	}
	s.InstallerMode = mode
	if s.LogMaxLines < 0 {
		fix("log_max_lines %d < 0, keeping everything", s.LogMaxLines)
		s.LogMaxLines = 0
	}
	if s.GitTimeoutSeconds <= 0 {
		fix("git_timeout_seconds %d invalid, using %d", s.GitTimeoutSeconds, d.GitTimeoutSeconds)
		s.GitTimeoutSeconds = d.GitTimeoutSeconds
	}
	if strings.TrimSpace(s.Listen) == "" {
		s.Listen = d.Listen
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
		s.LogLevel = strings.ToLower(s.LogLevel)
	default:
		fix("log_level %q unknown, using info", s.LogLevel)
		s.LogLevel = "info"
	}
	if s.Env == nil {
		s.Env = []string{}
	}
	if s.EnvFiles == nil {
		s.EnvFiles = []string{}
	}
	return notes
}

// Set assigns value (parsed according to the key's type) to key.
func (s *Settings) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := defaultsMap()[key]; !ok {
		return fmt.Errorf("unknown settings key %q", key)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	cur := map[string]any{}
	if err := json.Unmarshal(b, &cur); err != nil {
		return err
	}
	v := viper.New()
	if err := v.MergeConfigMap(cur); err != nil {
		return err
	}
	v.Set(key, value)
	var next Settings
	if err := v.Unmarshal(&next); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	next.Validate()
	*s = next
	return nil
}

// Save writes s as indented JSON to path via a temporary file and rename.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.AutoRefreshSeconds) * time.Second
}

func (s Settings) GitTimeout() time.Duration {
	return time.Duration(s.GitTimeoutSeconds) * time.Second
}

// Repo returns RepoPath with a leading ~ expanded to the home directory.
func (s Settings) Repo() string {
	return ExpandHome(s.RepoPath)
}

func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
