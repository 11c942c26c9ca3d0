// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"POSTGRES_DSN"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	Telegram                `yaml:"telegram"`
	LLM                     `yaml:"llm"`
	Memory                  `yaml:"memory"`
	Quota                   `yaml:"quota"`
	Payments                `yaml:"payments"`
	RabbitMQ                `yaml:"rabbitmq"`
	Admin                   `yaml:"admin"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// Telegram настройки Bot API и цикла получения обновлений.
type Telegram struct {
	BotToken      string        `yaml:"bot_token" env:"BOT_TOKEN"`
	APIURL        string        `yaml:"api_url" env-default:"https://api.telegram.org"`
	PollTimeout   time.Duration `yaml:"poll_timeout" env-default:"30s"`
	Workers       int           `yaml:"workers" env-default:"16"`
	FloodInterval time.Duration `yaml:"flood_interval" env-default:"1s"`
	AdminUsername string        `yaml:"admin_username" env:"ADMIN_USERNAME" env-default:"@admin"`
}

// LLM настройки клиента языковой модели.
type LLM struct {
	APIKey      string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string        `yaml:"model" env-default:"gpt-4o"`
	Temperature float32       `yaml:"temperature" env-default:"0.7"`
	MaxTokens   int           `yaml:"max_tokens" env-default:"512"`
	Timeout     time.Duration `yaml:"timeout" env-default:"60s"`
}

// Memory настройки краткосрочного окна и компактизации резюме.
type Memory struct {
	Window       int           `yaml:"window" env-default:"10"`
	TTL          time.Duration `yaml:"ttl" env-default:"24h"`
	SummaryEvery int           `yaml:"summary_every" env-default:"10"`
}

// Quota настройки дневного лимита сообщений.
type Quota struct {
	DailyLimit int    `yaml:"daily_limit" env-default:"5"`
	ResetCron  string `yaml:"reset_cron" env-default:"0 0 * * *"`
	Timezone   string `yaml:"timezone" env-default:"Europe/Moscow"`
}

// Payments настройки платёжных каналов.
type Payments struct {
	TelegramProviderToken string        `yaml:"telegram_provider_token" env:"TELEGRAM_PAYMENTS_TOKEN"`
	Currency              string        `yaml:"currency" env-default:"RUB"`
	SubscriptionDays      int           `yaml:"subscription_days" env-default:"30"`
	CryptoCloudAPIURL     string        `yaml:"cryptocloud_api_url" env-default:"https://api.cryptocloud.plus"`
	CryptoCloudAPIKey     string        `yaml:"cryptocloud_api_key" env:"CRYPTOCLOUD_API_KEY"`
	CryptoCloudShopID     string        `yaml:"cryptocloud_shop_id" env:"CRYPTOCLOUD_SHOP_ID"`
	PollInterval          time.Duration `yaml:"poll_interval" env-default:"20s"`
}

// RabbitMQ настройки брокера уведомлений. Пустой URL отключает брокер.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// Admin настройки административного API.
type Admin struct {
	Username     string        `yaml:"username" env-default:"admin"`
	PasswordHash string        `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH"`
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"12h"`
}

// MustLoad функция для загрузки конфига из файла CONFIG_PATH с переопределением из окружения
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг по пути и проверяет обязательные поля.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых бот не сможет работать.
func (c *Config) Validate() error {
	switch {
	case c.StorageConnectionString == "":
		return fmt.Errorf("storage_connection_string is required")
	case c.AddressRedis == "":
		return fmt.Errorf("redis_connection.addressredis is required")
	case c.Memory.Window <= 0:
		return fmt.Errorf("memory.window must be positive")
	case c.Quota.DailyLimit < 0:
		return fmt.Errorf("quota.daily_limit must not be negative")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	return nil
}

// Location возвращает часовой пояс для планировщика сброса лимитов.
func (q Quota) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"LLM:\n"+
			"  Model: %s\n"+
			"Memory:\n"+
			"  Window: %d\n"+
			"  TTL: %s\n"+
			"Quota:\n"+
			"  DailyLimit: %d\n"+
			"  ResetCron: %s (%s)\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.Model,
		c.Window,
		c.Memory.TTL,
		c.DailyLimit,
		c.ResetCron,
		c.Timezone,
	)
}
