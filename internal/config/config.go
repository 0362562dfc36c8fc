// Package config provides configuration types and loading for mako.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Log           LogConfig           `json:"log"`
	Storage       StorageConfig       `json:"storage"`
	Tools         ToolsConfig         `json:"tools"`
	Access        AccessConfig        `json:"access"`
	Cost          CostConfig          `json:"cost"`
	Proactive     ProactiveConfig     `json:"proactive"`
	Precipitation PrecipitationConfig `json:"precipitation"`
	Chat          ChatConfig          `json:"chat"`
	Affinity      AffinityConfig      `json:"affinity"`
	Recall        RecallConfig        `json:"recall"`
	Providers     ProvidersConfig     `json:"providers"`
	Notify        NotifyConfig        `json:"notify"`
}

// ---------------------------------------------------------------------------
// Log / Storage
// ---------------------------------------------------------------------------

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"` // "text" or "json"
}

// StorageConfig selects the KV backend and the SQLite database path.
type StorageConfig struct {
	Backend       string `json:"backend" envconfig:"BACKEND"` // "redis", "memory" or empty for auto
	RedisURL      string `json:"redisUrl" envconfig:"REDIS_URL"`
	RedisAddr     string `json:"redisAddr" envconfig:"REDIS_ADDR"`
	RedisPassword string `json:"redisPassword" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" envconfig:"REDIS_DB"`
	SQLitePath    string `json:"sqlitePath" envconfig:"SQLITE_PATH"`
}

// ---------------------------------------------------------------------------
// Tools / Access / Cost
// ---------------------------------------------------------------------------

// ToolsConfig tunes the dispatcher.
type ToolsConfig struct {
	TimeoutSeconds float64  `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
	MaxConcurrency int      `json:"maxConcurrency" envconfig:"MAX_CONCURRENCY"`
	Enable         []string `json:"enable" envconfig:"ENABLE"`
	Disable        []string `json:"disable" envconfig:"DISABLE"`
	// HTTPRateLimit caps outbound requests per second to each provider API.
	HTTPRateLimit float64 `json:"httpRateLimit" envconfig:"HTTP_RATE_LIMIT"`
}

// Timeout returns the per-call timeout as a duration.
func (t ToolsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds * float64(time.Second))
}

// AccessConfig holds the static access lists.
type AccessConfig struct {
	AdminUsers      []string `json:"adminUsers" envconfig:"ADMIN_USERS"`
	BlacklistUsers  []string `json:"blacklistUsers" envconfig:"BLACKLIST_USERS"`
	BlacklistGroups []string `json:"blacklistGroups" envconfig:"BLACKLIST_GROUPS"`
	AdminOnlyTools  []string `json:"adminOnlyTools" envconfig:"ADMIN_ONLY_TOOLS"`
	GroupEnable     []string `json:"groupEnable" envconfig:"GROUP_ENABLE"`
	GroupDisable    []string `json:"groupDisable" envconfig:"GROUP_DISABLE"`
	PrivateEnable   []string `json:"privateEnable" envconfig:"PRIVATE_ENABLE"`
	PrivateDisable  []string `json:"privateDisable" envconfig:"PRIVATE_DISABLE"`
}

// CostConfig drives the budget ledger.
type CostConfig struct {
	Enabled          bool               `json:"enabled" envconfig:"ENABLED"`
	DailyLimitGlobal float64            `json:"dailyLimitGlobal" envconfig:"DAILY_LIMIT_GLOBAL"`
	DailyLimitUser   float64            `json:"dailyLimitUser" envconfig:"DAILY_LIMIT_USER"`
	LLMInputPer1K    float64            `json:"llmInputPer1k" envconfig:"LLM_INPUT_PER_1K"`
	LLMOutputPer1K   float64            `json:"llmOutputPer1k" envconfig:"LLM_OUTPUT_PER_1K"`
	ToolOverrides    map[string]float64 `json:"toolOverrides" envconfig:"TOOL_OVERRIDES"`
	Timezone         string             `json:"timezone" envconfig:"TIMEZONE"`
}

// Location resolves Timezone, falling back to the local zone.
func (c CostConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ---------------------------------------------------------------------------
// Proactive follow-ups / chat / affinity / recall
// ---------------------------------------------------------------------------

// ProactiveConfig controls promise due times and the follow-up scanner.
type ProactiveConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"ENABLED"`
	DefaultHours int    `json:"defaultHours" envconfig:"DEFAULT_HOURS"`
	TonightHour  int    `json:"tonightHour" envconfig:"TONIGHT_HOUR"`
	ScanMinutes  int    `json:"scanMinutes" envconfig:"SCAN_MINUTES"`
	Cron         string `json:"cron" envconfig:"CRON"`
	BatchLimit   int    `json:"batchLimit" envconfig:"BATCH_LIMIT"`
	MaxDelivery  int    `json:"maxDelivery" envconfig:"MAX_DELIVERY"`
	LockPath     string `json:"lockPath" envconfig:"LOCK_PATH"`
}

// PrecipitationConfig controls the nightly job that condenses the chat
// record feed into recall points and rewritten user profiles.
type PrecipitationConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"ENABLED"`
	Cron        string `json:"cron" envconfig:"CRON"`
	WindowHours int    `json:"windowHours" envconfig:"WINDOW_HOURS"`
	MaxPoints   int    `json:"maxPoints" envconfig:"MAX_POINTS"`
	UserLines   int    `json:"userLines" envconfig:"USER_LINES"`
	MaxTokens   int    `json:"maxTokens" envconfig:"MAX_TOKENS"`
}

// ChatConfig bounds the conversation history.
type ChatConfig struct {
	MaxHistoryTurns int    `json:"maxHistoryTurns" envconfig:"MAX_HISTORY_TURNS"`
	BotName         string `json:"botName" envconfig:"BOT_NAME"`
	MaxReplyTokens  int    `json:"maxReplyTokens" envconfig:"MAX_REPLY_TOKENS"`
	// ReplyChance is the probability of answering a group message that
	// neither mentions nor names the bot.
	ReplyChance float64 `json:"replyChance" envconfig:"REPLY_CHANCE"`
}

// AffinityConfig bounds the per-user affinity score.
type AffinityConfig struct {
	Min      int `json:"min" envconfig:"MIN"`
	Max      int `json:"max" envconfig:"MAX"`
	Initial  int `json:"initial" envconfig:"INITIAL"`
	DailyCap int `json:"dailyCap" envconfig:"DAILY_CAP"`
}

// RecallConfig tunes similarity search.
type RecallConfig struct {
	TopK           int     `json:"topK" envconfig:"TOP_K"`
	ScoreThreshold float64 `json:"scoreThreshold" envconfig:"SCORE_THRESHOLD"`
}

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

// ProvidersConfig contains external API credentials.
type ProvidersConfig struct {
	OpenAI   OpenAIConfig   `json:"openai"`
	QWeather QWeatherConfig `json:"qweather"`
	Google   GoogleConfig   `json:"google"`
	Amap     AmapConfig     `json:"amap"`
}

// OpenAIConfig configures the OpenAI-compatible API used for chat, vision,
// images, speech and embeddings.
type OpenAIConfig struct {
	APIKey         string `json:"apiKey" envconfig:"API_KEY"`
	BaseURL        string `json:"baseUrl" envconfig:"BASE_URL"`
	ChatModel      string `json:"chatModel" envconfig:"CHAT_MODEL"`
	VisionModel    string `json:"visionModel" envconfig:"VISION_MODEL"`
	ImageModel     string `json:"imageModel" envconfig:"IMAGE_MODEL"`
	ImageSize      string `json:"imageSize" envconfig:"IMAGE_SIZE"`
	TTSModel       string `json:"ttsModel" envconfig:"TTS_MODEL"`
	TTSVoice       string `json:"ttsVoice" envconfig:"TTS_VOICE"`
	STTModel       string `json:"sttModel" envconfig:"STT_MODEL"`
	EmbeddingModel string `json:"embeddingModel" envconfig:"EMBEDDING_MODEL"`
}

// QWeatherConfig configures the QWeather API.
type QWeatherConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Key  string `json:"key" envconfig:"KEY"`
}

// GoogleConfig configures Google Custom Search.
type GoogleConfig struct {
	APIKey      string `json:"apiKey" envconfig:"API_KEY"`
	CX          string `json:"cx" envconfig:"CX"`
	ResultCount int    `json:"resultCount" envconfig:"RESULT_COUNT"`
	BaseURL     string `json:"baseUrl" envconfig:"BASE_URL"`
}

// AmapConfig configures the Amap (Gaode) web service API.
type AmapConfig struct {
	Key     string `json:"key" envconfig:"KEY"`
	BaseURL string `json:"baseUrl" envconfig:"BASE_URL"`
}

// ---------------------------------------------------------------------------
// Notify
// ---------------------------------------------------------------------------

// NotifyConfig selects where due follow-ups are delivered.
type NotifyConfig struct {
	Kafka KafkaNotifyConfig `json:"kafka"`
	Slack SlackNotifyConfig `json:"slack"`
}

// KafkaNotifyConfig publishes follow-ups to a Kafka topic.
type KafkaNotifyConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// SlackNotifyConfig posts follow-ups to a Slack channel.
type SlackNotifyConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken  string `json:"botToken" envconfig:"BOT_TOKEN"`
	ChannelID string `json:"channelId" envconfig:"CHANNEL_ID"`
	APIBase   string `json:"apiBase" envconfig:"API_BASE"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			SQLitePath: "~/.mako/mako.db",
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 25,
			MaxConcurrency: 3,
			HTTPRateLimit:  5,
		},
		Access: AccessConfig{
			AdminOnlyTools: []string{"note.delete", "note.update"},
		},
		Cost: CostConfig{
			Enabled:          true,
			DailyLimitGlobal: 3.0,
			DailyLimitUser:   0.3,
			LLMInputPer1K:    0.0015,
			LLMOutputPer1K:   0.0020,
		},
		Proactive: ProactiveConfig{
			Enabled:      true,
			DefaultHours: 24,
			TonightHour:  20,
			ScanMinutes:  20,
			BatchLimit:   20,
			MaxDelivery:  3,
			LockPath:     "~/.mako/followups.lock",
		},
		Precipitation: PrecipitationConfig{
			Enabled:     true,
			Cron:        "0 22 * * *",
			WindowHours: 24,
			MaxPoints:   8,
			UserLines:   50,
			MaxTokens:   1200,
		},
		Chat: ChatConfig{
			MaxHistoryTurns: 50,
			BotName:         "mako",
			MaxReplyTokens:  400,
			ReplyChance:     0.001,
		},
		Affinity: AffinityConfig{Min: 0, Max: 100, Initial: 50, DailyCap: 20},
		Recall:   RecallConfig{TopK: 3, ScoreThreshold: 0.4},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				ChatModel:      "gpt-4o-mini",
				VisionModel:    "gpt-4o-mini",
				ImageModel:     "dall-e-3",
				ImageSize:      "1024x1024",
				TTSModel:       "tts-1",
				TTSVoice:       "alloy",
				STTModel:       "whisper-1",
				EmbeddingModel: "text-embedding-3-small",
			},
			Google: GoogleConfig{ResultCount: 5},
		},
		Notify: NotifyConfig{
			Kafka: KafkaNotifyConfig{Topic: "mako.followups"},
		},
	}
}
