package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supportbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"-config", "", "-assistant-url", "http://assistant.local/ask", "-state-dir", "/tmp/sb"})
	require.NoError(t, err)
	require.Equal(t, DefaultTimeoutMinutes, cfg.TimeoutMinutes)
	require.Equal(t, DefaultAssistantTO, cfg.AssistantTimeout)
	require.Equal(t, DefaultCatalogLimit, cfg.CatalogDefaultLimit)
	require.Equal(t, DefaultCatalogMaxLimit, cfg.CatalogMaxLimit)
	require.Equal(t, DefaultDedupRetention, cfg.DedupRetention)
	require.Equal(t, filepath.Join("/tmp/sb", DefaultDBFileName), cfg.DBDSN)
	require.Contains(t, cfg.WhatsAppDBDSN, "/tmp/sb/"+DefaultWhatsAppDBFile)
}

func TestFileThenEnvThenFlags(t *testing.T) {
	path := writeYAML(t, `
timeout_minutes: 15
assistant_url: http://from-file/ask
assistant_timeout: 10s
transport: mock
api_addr: ":9000"
`)
	t.Setenv("SUPPORTBOT_TIMEOUT_MINUTES", "20")
	t.Setenv("SUPPORTBOT_DEDUP_RETENTION", "48h")

	cfg, err := Load([]string{"-config", path, "-api-addr", ":9100"})
	require.NoError(t, err)
	require.Equal(t, 20, cfg.TimeoutMinutes, "env overrides file")
	require.Equal(t, "http://from-file/ask", cfg.AssistantURL)
	require.Equal(t, 10*time.Second, cfg.AssistantTimeout)
	require.Equal(t, TransportMock, cfg.Transport)
	require.Equal(t, ":9100", cfg.APIAddr, "flags override file")
	require.Equal(t, 48*time.Hour, cfg.DedupRetention)
}

func TestUnsetFlagsDoNotOverride(t *testing.T) {
	t.Setenv("SUPPORTBOT_TIMEOUT_MINUTES", "7")
	t.Setenv("SUPPORTBOT_ASSISTANT_URL", "http://env/ask")

	cfg, err := Load([]string{"-config", ""})
	require.NoError(t, err)
	require.Equal(t, 7, cfg.TimeoutMinutes)
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load([]string{"-config", "", "-assistant-provider", "openai"})
	require.NoError(t, err)
	require.Equal(t, "sk-test", cfg.OpenAIAPIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.AssistantURL = "http://assistant/ask"
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"zero timeout":      func(c *Config) { c.TimeoutMinutes = 0 },
		"negative timeout":  func(c *Config) { c.TimeoutMinutes = -5 },
		"unknown provider":  func(c *Config) { c.AssistantProvider = "carrier-pigeon" },
		"unknown transport": func(c *Config) { c.Transport = "fax" },
		"missing url":       func(c *Config) { c.AssistantURL = "" },
		"openai no key":     func(c *Config) { c.AssistantProvider = ProviderOpenAI },
		"limits inverted":   func(c *Config) { c.CatalogDefaultLimit = 20 },
		"bad log format":    func(c *Config) { c.LogFormat = "xml" },
		"no retries":        func(c *Config) { c.AssistantMaxRetries = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load([]string{"-config", "", "-assistant-url", "http://a/ask", "-timeout-minutes", "-1"})
	require.Error(t, err)

	_, err = Load([]string{"-no-such-flag"})
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "DEBUG"
	require.Equal(t, "DEBUG", c.SlogLevel().String())
}
