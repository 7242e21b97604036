package config

import (
	"flag"
	"time"
)

type flagValues struct {
	configPath        *string
	stateDir          *string
	dbDSN             *string
	redisAddr         *string
	timeoutMinutes    *int
	assistantProvider *string
	assistantURL      *string
	assistantTimeout  *time.Duration
	transport         *string
	qrOutput          *string
	numeric           *bool
	apiAddr           *string
	logLevel          *string
}

func newFlagSet() (*flag.FlagSet, flagValues) {
	fs := flag.NewFlagSet("supportbot", flag.ContinueOnError)
	v := flagValues{
		configPath:        fs.String("config", DefaultConfigFile, "path to the YAML config file"),
		stateDir:          fs.String("state-dir", "", "state directory (overrides $SUPPORTBOT_STATE_DIR)"),
		dbDSN:             fs.String("db-dsn", "", "database DSN, SQLite path or postgres URL (overrides $SUPPORTBOT_DB_DSN)"),
		redisAddr:         fs.String("redis-addr", "", "Redis address for the session cache (overrides $SUPPORTBOT_REDIS_ADDR)"),
		timeoutMinutes:    fs.Int("timeout-minutes", 0, "conversation inactivity timeout in minutes (overrides $SUPPORTBOT_TIMEOUT_MINUTES)"),
		assistantProvider: fs.String("assistant-provider", "", "assistant backend: http or openai"),
		assistantURL:      fs.String("assistant-url", "", "assistant endpoint URL (overrides $SUPPORTBOT_ASSISTANT_URL)"),
		assistantTimeout:  fs.Duration("assistant-timeout", 0, "per-request assistant timeout"),
		transport:         fs.String("transport", "", "messaging transport: twilio, whatsapp or mock"),
		qrOutput:          fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:           fs.Bool("numeric-code", false, "use a numeric WhatsApp login code instead of a QR code"),
		apiAddr:           fs.String("api-addr", "", "operational API address (overrides $SUPPORTBOT_API_ADDR)"),
		logLevel:          fs.String("log-level", "", "log level: debug, info, warn or error"),
	}
	return fs, v
}

// applyFlags copies only the flags that were set on the command line.
func applyFlags(fs *flag.FlagSet, v flagValues, c *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "state-dir":
			c.StateDir = *v.stateDir
		case "db-dsn":
			c.DBDSN = *v.dbDSN
		case "redis-addr":
			c.RedisAddr = *v.redisAddr
		case "timeout-minutes":
			c.TimeoutMinutes = *v.timeoutMinutes
		case "assistant-provider":
			c.AssistantProvider = *v.assistantProvider
		case "assistant-url":
			c.AssistantURL = *v.assistantURL
		case "assistant-timeout":
			c.AssistantTimeout = *v.assistantTimeout
		case "transport":
			c.Transport = *v.transport
		case "qr-output":
			c.WhatsAppQROutput = *v.qrOutput
		case "numeric-code":
			c.WhatsAppNumeric = *v.numeric
		case "api-addr":
			c.APIAddr = *v.apiAddr
		case "log-level":
			c.LogLevel = *v.logLevel
		}
	})
}
