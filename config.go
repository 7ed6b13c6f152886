package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CWCompanyID  string `yaml:"cw_company_id"`
	CWPublicKey  string `yaml:"cw_public_key"`
	CWPrivateKey string `yaml:"cw_private_key"`
	CWClientID   string `yaml:"cw_client_id"`
	CWAPIBase    string `yaml:"cw_api_base"`

	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	DBPath     string `yaml:"db_path"`
	UploadDir  string `yaml:"upload_dir"`
	ListenAddr string `yaml:"listen_addr"`

	// Unattended sync: a 5-field cron expression plus the fixed input
	// files it runs against. Empty schedule disables it.
	SyncSchedule  string `yaml:"sync_schedule"`
	SyncCSVPath   string `yaml:"sync_csv_path"`
	SyncEmailPath string `yaml:"sync_email_path"`
	SyncDryRun    bool   `yaml:"sync_dry_run"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
}

func LoadConfig() Config {
	// .env first, so credentials can live next to the binary the way the
	// rest of the env-var surface expects.
	_ = godotenv.Load()

	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values.
	envOverride(&cfg.CWCompanyID, "CW_COMPANY_ID")
	envOverride(&cfg.CWPublicKey, "CW_PUBLIC_KEY")
	envOverride(&cfg.CWPrivateKey, "CW_PRIVATE_KEY")
	envOverride(&cfg.CWClientID, "CW_CLIENT_ID")
	envOverride(&cfg.CWAPIBase, "CW_API_BASE")
	envOverrideInt(&cfg.HTTPTimeoutSeconds, "HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.UploadDir, "UPLOAD_DIR")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.SyncSchedule, "SYNC_SCHEDULE")
	envOverride(&cfg.SyncCSVPath, "SYNC_CSV_PATH")
	envOverride(&cfg.SyncEmailPath, "SYNC_EMAIL_PATH")
	envOverrideBool(&cfg.SyncDryRun, "SYNC_DRY_RUN")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")

	// Defaults
	if cfg.CWAPIBase == "" {
		cfg.CWAPIBase = "https://na.myconnectwise.net/v4_6_release/apis/3.0"
	}
	cfg.CWAPIBase = strings.TrimRight(cfg.CWAPIBase, "/")
	if cfg.DBPath == "" {
		cfg.DBPath = "./crewhusync.db"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":5000"
	}

	return cfg
}

// ValidateCredentials reports whether the four required ConnectWise
// credentials are present, and which are missing.
func (c Config) ValidateCredentials() (bool, []string) {
	required := []struct {
		name  string
		value string
	}{
		{"CW_COMPANY_ID", c.CWCompanyID},
		{"CW_PUBLIC_KEY", c.CWPublicKey},
		{"CW_PRIVATE_KEY", c.CWPrivateKey},
		{"CW_CLIENT_ID", c.CWClientID},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	return len(missing) == 0, missing
}

// RequireCredentials aborts before any processing when a required
// credential is absent. API-writing modes call this first.
func (c Config) RequireCredentials() {
	if ok, missing := c.ValidateCredentials(); !ok {
		log.Fatalf("Missing required credentials: %s (set these in .env, config.yaml, or the environment)",
			strings.Join(missing, ", "))
	}
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
