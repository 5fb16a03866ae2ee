package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации обеих плоскостей (console + worker).
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Activation ActivationConfig `mapstructure:"activation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (очередь заданий и Pub/Sub сигналы).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// ActivationConfig — явные, именованные пороги гейтов промоушена.
type ActivationConfig struct {
	// ErrorBudget — сколько ошибок прогона терпимо для readyToPromote.
	// Дефолт 0: любой сбой оценки блокирует активацию, пока оператор не отменит прогон.
	ErrorBudget int64 `mapstructure:"error_budget"`

	// DiffSampleSize — граница Top-списков в отчете сравнения.
	DiffSampleSize int `mapstructure:"diff_sample_size"`
}

// WorkerConfig — настройки конвейера массовой переоценки.
type WorkerConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"` // Горутин-оценщиков на батч
	EvalTimeout time.Duration `mapstructure:"eval_timeout"`

	// Троттлинг оценки (элементов/сек), чтобы фоновый прогон не съедал базу
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker вокруг эвалюатора
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// AuditConfig — буферизация журнала операторских действий.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. Переменные окружения перекрывают файл: ACTIVATION_ERROR_BUDGET=5
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("activation.error_budget", 0)
	v.SetDefault("activation.diff_sample_size", 20)
	v.SetDefault("worker.batch_size", 500)
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.eval_timeout", 10*time.Second)
	v.SetDefault("worker.rate_limit", 200)
	v.SetDefault("worker.rate_burst", 50)
	v.SetDefault("worker.cb_max_requests", 3)
	v.SetDefault("worker.cb_interval", 5*time.Second)
	v.SetDefault("worker.cb_timeout", 30*time.Second)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ либо прилетает PEM-ом в ENV, либо читается с диска
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
