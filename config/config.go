package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
)

const (
	defaultGitHubUser     = "23f1003086"
	defaultGitHubAPIURL   = "https://api.github.com/"
	defaultOpenAIBaseURL  = "https://aipipe.org/openai/v1"
	defaultPort           = 7860
	defaultLLMTimeout     = 120 * time.Second
	defaultShutdown       = 60 * time.Second
	defaultWorkerCount    = 4
	defaultDBDriver       = "sqlite"
	defaultDBDSN          = "b2p.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultArkModel       = "doubao-seed-1-6-250615"
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultPagesBranch    = "main"
	defaultPagesAttempts  = 6
	defaultPagesInterval  = 5 * time.Second
	defaultNotifyAttempts = 3
	defaultNotifyDelay    = time.Second
)

var ErrMissingSecret = errors.New("config: PROJECT_SECRET is not set")

// Config is built once in main and handed to every component by value.
type Config struct {
	Port            int
	Secret          string
	WorkDir         string
	ShutdownTimeout time.Duration

	GitHub GitHubConfig
	LLM    LLMConfig
	Notify NotifyConfig

	RedisAddr         string
	AMQPURL           string
	WorkerConcurrency int
	DBDriver          string
	DBDSN             string

	LogLevel  string
	LogFormat string
}

type GitHubConfig struct {
	Token         string
	User          string
	APIURL        string
	Branch        string
	PagesAttempts int
	PagesInterval time.Duration
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

type NotifyConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// PagesURL is the GitHub Pages address a task's repository is served from.
func (c GitHubConfig) PagesURL(task string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", c.User, task)
}

// RepoURL is the browser address of a task's repository.
func (c GitHubConfig) RepoURL(task string) string {
	return fmt.Sprintf("https://github.com/%s/%s", c.User, task)
}

// Default returns a configuration with every default applied and no secrets.
func Default() Config {
	return Config{
		Port:            defaultPort,
		WorkDir:         ".",
		ShutdownTimeout: defaultShutdown,
		GitHub: GitHubConfig{
			User:          defaultGitHubUser,
			APIURL:        defaultGitHubAPIURL,
			Branch:        defaultPagesBranch,
			PagesAttempts: defaultPagesAttempts,
			PagesInterval: defaultPagesInterval,
		},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			Model:    defaultOpenAIModel,
			BaseURL:  defaultOpenAIBaseURL,
			Timeout:  defaultLLMTimeout,
		},
		Notify: NotifyConfig{
			Attempts:  defaultNotifyAttempts,
			BaseDelay: defaultNotifyDelay,
		},
		WorkerConcurrency: defaultWorkerCount,
		DBDriver:          defaultDBDriver,
		DBDSN:             defaultDBDSN,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function so tests do not
// have to touch the real environment.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	// DB_DSN may be set to an empty string on purpose to disable history.
	if v, ok := lookup("DB_DSN"); ok {
		cfg.DBDSN = strings.TrimSpace(v)
	}

	cfg.Secret = get("PROJECT_SECRET")
	if cfg.Secret == "" {
		return cfg, ErrMissingSecret
	}

	var err error
	if cfg.Port, err = intOr(get("PORT"), cfg.Port); err != nil {
		return cfg, fmt.Errorf("config: PORT: %w", err)
	}
	if v := get("WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if cfg.ShutdownTimeout, err = durationOr(get("SHUTDOWN_TIMEOUT"), cfg.ShutdownTimeout); err != nil {
		return cfg, fmt.Errorf("config: SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.GitHub.Token = get("GITHUB_TOKEN")
	if v := get("GITHUB_USER"); v != "" {
		cfg.GitHub.User = v
	}
	if v := get("GITHUB_API_URL"); v != "" {
		if !strings.HasSuffix(v, "/") {
			v += "/"
		}
		cfg.GitHub.APIURL = v
	}

	if v := strings.ToLower(get("LLM_PROVIDER")); v != "" {
		cfg.LLM.Provider = v
	}
	switch cfg.LLM.Provider {
	case ProviderOpenAI:
		cfg.LLM.APIKey = get("OPENAI_API_KEY")
		if v := get("OPENAI_BASE_URL"); v != "" {
			cfg.LLM.BaseURL = v
		}
	case ProviderArk:
		cfg.LLM.Model = defaultArkModel
		cfg.LLM.APIKey = get("ARK_API_KEY")
		cfg.LLM.BaseURL = get("ARK_BASE_URL")
	case ProviderGemini:
		cfg.LLM.Model = defaultGeminiModel
		cfg.LLM.APIKey = get("GEMINI_API_KEY")
		cfg.LLM.BaseURL = ""
	default:
		return cfg, fmt.Errorf("config: unknown LLM_PROVIDER %q", cfg.LLM.Provider)
	}
	if v := get("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if cfg.LLM.Timeout, err = durationOr(get("LLM_TIMEOUT"), cfg.LLM.Timeout); err != nil {
		return cfg, fmt.Errorf("config: LLM_TIMEOUT: %w", err)
	}

	cfg.RedisAddr = get("REDIS_ADDR")
	cfg.AMQPURL = get("AMQP_URL")
	if cfg.WorkerConcurrency, err = intOr(get("WORKER_CONCURRENCY"), cfg.WorkerConcurrency); err != nil {
		return cfg, fmt.Errorf("config: WORKER_CONCURRENCY: %w", err)
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}

	if v := strings.ToLower(get("DB_DRIVER")); v != "" {
		cfg.DBDriver = v
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "mysql" {
		return cfg, fmt.Errorf("config: unknown DB_DRIVER %q", cfg.DBDriver)
	}

	if v := get("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := get("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func intOr(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func durationOr(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}
