package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".mako"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "MAKO"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("MAKO_CONFIG")); explicit != "" {
		return expandHome(explicit), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return finalize(DefaultConfig())
	}
	return LoadFile(path)
}

// LoadFile loads path (JSON or YAML by extension) over the defaults and then
// applies environment overrides. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// decode parses YAML by round-tripping through JSON so both formats share the
// json struct tags.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return json.Unmarshal(converted, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"MAKO_LOG", &cfg.Log},
		{"MAKO_STORAGE", &cfg.Storage},
		{"MAKO_TOOLS", &cfg.Tools},
		{"MAKO_ACCESS", &cfg.Access},
		{"MAKO_COST", &cfg.Cost},
		{"MAKO_PROACTIVE", &cfg.Proactive},
		{"MAKO_PRECIPITATION", &cfg.Precipitation},
		{"MAKO_CHAT", &cfg.Chat},
		{"MAKO_AFFINITY", &cfg.Affinity},
		{"MAKO_RECALL", &cfg.Recall},
		{"MAKO_OPENAI", &cfg.Providers.OpenAI},
		{"MAKO_QWEATHER", &cfg.Providers.QWeather},
		{"MAKO_GOOGLE", &cfg.Providers.Google},
		{"MAKO_AMAP", &cfg.Providers.Amap},
		{"MAKO_NOTIFY_KAFKA", &cfg.Notify.Kafka},
		{"MAKO_NOTIFY_SLACK", &cfg.Notify.Slack},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("config: env %s: %w", g.prefix, err)
		}
	}

	// Fallback for API Key
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// finalize normalises lists and clamps values that would otherwise disable
// safety limits.
func finalize(cfg *Config) (*Config, error) {
	cfg.Tools.Enable = NormalizeNames(cfg.Tools.Enable)
	cfg.Tools.Disable = NormalizeNames(cfg.Tools.Disable)
	cfg.Access.AdminOnlyTools = NormalizeNames(cfg.Access.AdminOnlyTools)
	cfg.Access.GroupEnable = NormalizeNames(cfg.Access.GroupEnable)
	cfg.Access.GroupDisable = NormalizeNames(cfg.Access.GroupDisable)
	cfg.Access.PrivateEnable = NormalizeNames(cfg.Access.PrivateEnable)
	cfg.Access.PrivateDisable = NormalizeNames(cfg.Access.PrivateDisable)
	cfg.Access.AdminUsers = NormalizeIDs(cfg.Access.AdminUsers)
	cfg.Access.BlacklistUsers = NormalizeIDs(cfg.Access.BlacklistUsers)
	cfg.Access.BlacklistGroups = NormalizeIDs(cfg.Access.BlacklistGroups)

	if cfg.Tools.TimeoutSeconds <= 0 {
		cfg.Tools.TimeoutSeconds = 25
	}
	if cfg.Tools.MaxConcurrency < 1 {
		cfg.Tools.MaxConcurrency = 1
	}
	if cfg.Proactive.TonightHour < 0 || cfg.Proactive.TonightHour > 23 {
		cfg.Proactive.TonightHour = 20
	}
	if cfg.Proactive.DefaultHours <= 0 {
		cfg.Proactive.DefaultHours = 24
	}
	if cfg.Proactive.ScanMinutes <= 0 {
		cfg.Proactive.ScanMinutes = 20
	}
	if cfg.Proactive.Cron == "" {
		cfg.Proactive.Cron = fmt.Sprintf("*/%d * * * *", cfg.Proactive.ScanMinutes)
	}
	if cfg.Precipitation.Cron == "" {
		cfg.Precipitation.Cron = "0 22 * * *"
	}
	if cfg.Precipitation.WindowHours <= 0 {
		cfg.Precipitation.WindowHours = 24
	}
	if cfg.Precipitation.MaxPoints <= 0 {
		cfg.Precipitation.MaxPoints = 8
	}
	if cfg.Precipitation.UserLines <= 0 {
		cfg.Precipitation.UserLines = 50
	}
	if cfg.Precipitation.MaxTokens <= 0 {
		cfg.Precipitation.MaxTokens = 1200
	}
	if cfg.Chat.MaxHistoryTurns <= 0 {
		cfg.Chat.MaxHistoryTurns = 50
	}
	if cfg.Affinity.Max <= cfg.Affinity.Min {
		cfg.Affinity.Min, cfg.Affinity.Max = 0, 100
	}
	if cfg.Recall.TopK <= 0 {
		cfg.Recall.TopK = 3
	}

	cfg.Storage.SQLitePath = expandHome(cfg.Storage.SQLitePath)
	cfg.Proactive.LockPath = expandHome(cfg.Proactive.LockPath)
	return cfg, nil
}

// NormalizeNames trims, lower-cases and de-duplicates tool names.
func NormalizeNames(in []string) []string {
	return normalize(in, true)
}

// NormalizeName trims and lower-cases one tool name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeIDs trims and de-duplicates identifiers.
func NormalizeIDs(in []string) []string {
	return normalize(in, false)
}

func normalize(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			v := strings.TrimSpace(part)
			if lower {
				v = strings.ToLower(v)
			}
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
