package config

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIEndpoint:    "https://api.telegram.org/bot%s/%s",
			WebhookPath:    "/",
			TimeoutSeconds: 30,
		},
		Datastore: DatastoreConfig{
			Driver:         DriverSupabase,
			Table:          "jobs",
			TimeoutSeconds: 30,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Ledger: LedgerConfig{
			Enabled:       false,
			DBPath:        "~/.ytrelay/ledger.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}
