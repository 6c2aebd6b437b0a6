package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type SecurityConfig struct {
	// EncryptionSecret feeds the session token key derivation. Required.
	EncryptionSecret string `yaml:"encryption_secret"`
	CookieName       string `yaml:"cookie_name"`
}

type CaptchaConfig struct {
	SecretKey string `yaml:"secret_key"`
	VerifyURL string `yaml:"verify_url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`
	Redis RedisConfig `yaml:"redis"`
	Email struct {
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUser     string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
	} `yaml:"email"`
	Captcha  CaptchaConfig  `yaml:"captcha"`
	Security SecurityConfig `yaml:"security"`
}

func LoadConfig() *Config {
	f, err := os.Open("config/config.yaml")
	if err != nil {
		panic("Failed to open config.yaml: " + err.Error())
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		panic("Failed to parse config.yaml: " + err.Error())
	}

	// secrets may come from the environment instead of the file
	overrideFromEnv(&cfg.Security.EncryptionSecret, "CLIPSTREAM_ENCRYPTION_SECRET")
	overrideFromEnv(&cfg.Captcha.SecretKey, "CLIPSTREAM_CAPTCHA_SECRET")
	overrideFromEnv(&cfg.Email.SMTPPassword, "CLIPSTREAM_SMTP_PASSWORD")
	overrideFromEnv(&cfg.Database.DSN, "CLIPSTREAM_DATABASE_URL")
	overrideFromEnv(&cfg.Redis.Addr, "CLIPSTREAM_REDIS_ADDR")

	if cfg.Security.EncryptionSecret == "" {
		panic("security.encryption_secret is required (or CLIPSTREAM_ENCRYPTION_SECRET)")
	}
	if cfg.Security.CookieName == "" {
		cfg.Security.CookieName = "__Host-clipstream_session"
	}
	if cfg.Captcha.VerifyURL == "" {
		cfg.Captcha.VerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	}
	return &cfg
}

func overrideFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
