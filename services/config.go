package services

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the service configuration, read from the environment.
type Config struct {
	Port               string
	DatabasePath       string
	Auth               AuthConfig
	CORSAllowedOrigins []string
	DirectorySeed      string
	Deadlines          DeadlineConfig
}

// LoadEnv loads environment variables from a .env file. A missing file is
// not an error; variables already set in the environment win.
func LoadEnv(filename string) error {
	file, err := os.Open(filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		os.Setenv(key, value)
	}

	return scanner.Err()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

// LoadConfig reads Config from the environment, applying defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "3001"),
		DatabasePath:  getEnv("DATABASE_PATH", "./katcon.db"),
		DirectorySeed: os.Getenv("DIRECTORY_SEED"),
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "your-default-secret-key-change-in-production"),
			PublicURL: os.Getenv("PUBLIC_URL"),
			DevLinks:  os.Getenv("AUTH_DEV_LINKS") == "true",
			SMTP: SMTPConfig{
				Host:     os.Getenv("SMTP_HOST"),
				Port:     os.Getenv("SMTP_PORT"),
				Username: os.Getenv("SMTP_USERNAME"),
				Password: os.Getenv("SMTP_PASSWORD"),
				From:     os.Getenv("SMTP_FROM"),
			},
		},
		Deadlines: DeadlineConfig{
			Schedule: getEnv("DEADLINE_SCHEDULE", "@every 15m"),
		},
	}
	for _, o := range strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.Auth.TokenTTL, err = getDuration("TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Auth.LinkTTL, err = getDuration("MAGIC_LINK_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Deadlines.Lookahead, err = getDuration("DEADLINE_LOOKAHEAD", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Deadlines.DedupWindow, err = getDuration("NOTIFICATION_DEDUP_WINDOW", 4*time.Hour); err != nil {
		return nil, err
	}
	return cfg, nil
}
