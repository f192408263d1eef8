package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		ReadTimeout     int `mapstructure:"readTimeout"`
		WriteTimeout    int `mapstructure:"writeTimeout"`
		ShutdownTimeout int `mapstructure:"shutdownTimeout"`
	} `mapstructure:"server"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		APIBase       string `mapstructure:"apiBase"`
	} `mapstructure:"stripe"`
	PayPal struct {
		Username     string `mapstructure:"username"`
		Password     string `mapstructure:"password"`
		Signature    string `mapstructure:"signature"`
		APIBase      string `mapstructure:"apiBase"`
		IPNVerifyURL string `mapstructure:"ipnVerifyUrl"`
		Sandbox      bool   `mapstructure:"sandbox"`
	} `mapstructure:"paypal"`
	Lock struct {
		TTLSeconds int `mapstructure:"ttlSeconds"`
	} `mapstructure:"lock"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env не обязателен: локально удобно, в контейнере его нет
		_ = godotenv.Load(path)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv() // Чтение переменных окружения

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для незаполненных полей.
func applyDefaults(cfg *Config) {
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Stripe.APIBase == "" {
		cfg.Stripe.APIBase = "https://api.stripe.com/v1"
	}
	if cfg.PayPal.APIBase == "" {
		if cfg.PayPal.Sandbox {
			cfg.PayPal.APIBase = "https://api-3t.sandbox.paypal.com/nvp"
		} else {
			cfg.PayPal.APIBase = "https://api-3t.paypal.com/nvp"
		}
	}
	if cfg.PayPal.IPNVerifyURL == "" {
		if cfg.PayPal.Sandbox {
			cfg.PayPal.IPNVerifyURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
		} else {
			cfg.PayPal.IPNVerifyURL = "https://ipnpb.paypal.com/cgi-bin/webscr"
		}
	}
	if cfg.Lock.TTLSeconds == 0 {
		cfg.Lock.TTLSeconds = 120
	}
}
