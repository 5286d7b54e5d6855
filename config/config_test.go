package config

import (
	"errors"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookupRequiresSecret(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{}))
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{"PROJECT_SECRET": "S"}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 7860 {
		t.Fatalf("unexpected port: %d", cfg.Port)
	}
	if cfg.LLM.Provider != ProviderOpenAI || cfg.LLM.BaseURL != "https://aipipe.org/openai/v1" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %s", cfg.LLM.Model)
	}
	if cfg.GitHub.PagesAttempts != 6 || cfg.GitHub.PagesInterval != 5*time.Second {
		t.Fatalf("unexpected pages policy: %+v", cfg.GitHub)
	}
	if cfg.Notify.Attempts != 3 || cfg.Notify.BaseDelay != time.Second {
		t.Fatalf("unexpected notify policy: %+v", cfg.Notify)
	}
	if cfg.DBDriver != "sqlite" || cfg.DBDSN != "b2p.db" {
		t.Fatalf("unexpected db config: %s %s", cfg.DBDriver, cfg.DBDSN)
	}
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"PROJECT_SECRET":   "S",
		"PORT":             "8080",
		"GITHUB_USER":      "octo",
		"GITHUB_API_URL":   "http://127.0.0.1:9000",
		"LLM_PROVIDER":     "GEMINI",
		"GEMINI_API_KEY":   "g-key",
		"LLM_TIMEOUT":      "30s",
		"DB_DSN":           "",
		"SHUTDOWN_TIMEOUT": "5s",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("unexpected port: %d", cfg.Port)
	}
	if cfg.GitHub.APIURL != "http://127.0.0.1:9000/" {
		t.Fatalf("api url should get a trailing slash, got %s", cfg.GitHub.APIURL)
	}
	if cfg.LLM.Provider != ProviderGemini || cfg.LLM.APIKey != "g-key" || cfg.LLM.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.Timeout != 30*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts: %s %s", cfg.LLM.Timeout, cfg.ShutdownTimeout)
	}
	if cfg.DBDSN != "" {
		t.Fatalf("empty DB_DSN should disable history, got %q", cfg.DBDSN)
	}
	if got := cfg.GitHub.PagesURL("demo1"); got != "https://octo.github.io/demo1/" {
		t.Fatalf("unexpected pages url: %s", got)
	}
	if got := cfg.GitHub.RepoURL("demo1"); got != "https://github.com/octo/demo1" {
		t.Fatalf("unexpected repo url: %s", got)
	}
}

func TestFromLookupRejectsUnknownProvider(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{"PROJECT_SECRET": "S", "LLM_PROVIDER": "bard"}))
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFromLookupRejectsBadDuration(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{"PROJECT_SECRET": "S", "LLM_TIMEOUT": "soon"}))
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
}
