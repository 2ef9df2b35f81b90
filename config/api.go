package config

type ApiConfig struct {
	Database struct {
		Host            string `toml:"host" env:"MOBILEMONEY_DB_HOST"`
		Port            string `toml:"port" env:"MOBILEMONEY_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"MOBILEMONEY_DB_USER"`
		Password        string `toml:"password" env:"MOBILEMONEY_DB_PASSWORD"`
		DB              string `toml:"db" env:"MOBILEMONEY_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"MOBILEMONEY_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"MOBILEMONEY_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"MOBILEMONEY_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"MOBILEMONEY_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"MOBILEMONEY_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"MOBILEMONEY_REDIS_HOST"`
		Port     string `toml:"port" env:"MOBILEMONEY_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"MOBILEMONEY_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"MOBILEMONEY_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Sync struct {
		MaxAgeDays             int    `toml:"max_age_days" env:"MOBILEMONEY_SYNC_MAX_AGE_DAYS" env-default:"30"`
		FutureToleranceMinutes int    `toml:"future_tolerance_minutes" env:"MOBILEMONEY_SYNC_FUTURE_TOLERANCE_MINUTES" env-default:"5"`
		BatchMax               int    `toml:"batch_max" env:"MOBILEMONEY_SYNC_BATCH_MAX" env-default:"100"`
		MaxAmountMinor         int64  `toml:"max_amount_minor" env:"MOBILEMONEY_SYNC_MAX_AMOUNT_MINOR" env-default:"1000000000"`
		NonceRetentionDays     int    `toml:"nonce_retention_days" env:"MOBILEMONEY_SYNC_NONCE_RETENTION_DAYS" env-default:"7"`
		KeyProfile             string `toml:"key_profile" env:"MOBILEMONEY_SYNC_KEY_PROFILE" env-default:"poc"`
	} `toml:"sync"`

	Chat struct {
		MemoryMaxMessages   int `toml:"memory_max_messages" env:"MOBILEMONEY_CHAT_MEMORY_MAX_MESSAGES" env-default:"20"`
		MemoryCacheTTLSecs  int `toml:"memory_cache_ttl_seconds" env:"MOBILEMONEY_CHAT_MEMORY_CACHE_TTL_SECONDS" env-default:"3600"`
		PruneAfterDays      int `toml:"prune_after_days" env:"MOBILEMONEY_CHAT_PRUNE_AFTER_DAYS" env-default:"30"`
	} `toml:"chat"`

	Insights struct {
		RateMinute          int `toml:"rate_minute" env:"MOBILEMONEY_INSIGHTS_RATE_MINUTE" env-default:"30"`
		RateHour            int `toml:"rate_hour" env:"MOBILEMONEY_INSIGHTS_RATE_HOUR" env-default:"100"`
		CacheDefaultTTLSecs int `toml:"cache_default_ttl_seconds" env:"MOBILEMONEY_INSIGHTS_CACHE_DEFAULT_TTL_SECONDS" env-default:"600"`
	} `toml:"insights"`

	Retention struct {
		ConflictRetentionDays int    `toml:"conflict_retention_days" env:"MOBILEMONEY_RETENTION_CONFLICT_DAYS" env-default:"90"`
		MessagePruneHour      int    `toml:"message_prune_hour" env:"MOBILEMONEY_RETENTION_MESSAGE_PRUNE_HOUR" env-default:"2"`
		TimeZone              string `toml:"time_zone" env:"MOBILEMONEY_RETENTION_TIME_ZONE" env-default:"Local"`
	} `toml:"retention"`

	LLM struct {
		Provider       string `toml:"provider" env:"MOBILEMONEY_LLM_PROVIDER" env-default:"openai"`
		BaseURL        string `toml:"base_url" env:"MOBILEMONEY_LLM_BASE_URL"`
		APIKey         string `toml:"api_key" env:"MOBILEMONEY_LLM_API_KEY"`
		Model          string `toml:"model" env:"MOBILEMONEY_LLM_MODEL" env-default:"gpt-4o-mini"`
		TimeoutSeconds int    `toml:"timeout_seconds" env:"MOBILEMONEY_LLM_TIMEOUT_SECONDS" env-default:"30"`
		MaxRetries     int    `toml:"max_retries" env:"MOBILEMONEY_LLM_MAX_RETRIES" env-default:"3"`
	} `toml:"llm"`
}
