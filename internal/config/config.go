package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the hub and the workers.
type Config struct {
	Hub       HubConfig
	Store     StoreConfig
	Worker    WorkerConfig
	Generator GeneratorConfig
	Search    SearchConfig

	PlanFile string
}

type HubConfig struct {
	Host      string
	Port      string
	OutputDir string

	GRPCHealthAddr string

	// WorkerToken guards the worker protocol routes when set.
	WorkerToken string

	SearchEnabled         bool
	SearchInterval        time.Duration
	SearchResultsPerQuery int
	SearchKeywords        []string
	FolderMonitorInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

type StoreConfig struct {
	Backend string

	SQLitePath  string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type WorkerConfig struct {
	ID             string
	HubURL         string
	HubToken       string
	Mode           string
	PollInterval   time.Duration
	SubmitInterval time.Duration

	AssetsDir   string
	ProgressDir string
	OutboxDir   string
	OutputDir   string
}

type GeneratorConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	ModelPrimary  string
	ModelFallback string
}

type SearchConfig struct {
	BaseURL         string
	RequestInterval time.Duration
	Timeout         time.Duration
	UserAgent       string
}

func Load() Config {
	hubHost := getEnv("HUB_HOST", "0.0.0.0")
	hubPort := getEnv("HUB_PORT", "8000")

	return Config{
		Hub: HubConfig{
			Host:      hubHost,
			Port:      hubPort,
			OutputDir: getEnv("HUB_OUTPUT_DIR", "output"),

			GRPCHealthAddr: getEnv("HUB_GRPC_HEALTH_ADDR", ""),
			WorkerToken:    getEnv("HUB_WORKER_TOKEN", ""),

			SearchEnabled:         getEnvBool("SEARCH_ENABLED", true),
			SearchInterval:        getEnvDuration("SEARCH_INTERVAL", time.Hour),
			SearchResultsPerQuery: getEnvInt("SEARCH_RESULTS_PER_KEYWORD", 20),
			SearchKeywords:        getEnvList("SEARCH_KEYWORDS", nil),
			FolderMonitorInterval: getEnvDuration("FOLDER_MONITOR_INTERVAL", 30*time.Second),

			RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),

			SQLitePath:  getEnv("SQLITE_PATH", "output/hub_jobs.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),

			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisPrefix:   getEnv("REDIS_PREFIX", "dataset_hub"),
		},
		Worker: WorkerConfig{
			ID:             getEnv("WORKER_ID", defaultWorkerID()),
			HubURL:         getEnv("HUB_URL", hubURL(hubHost, hubPort)),
			HubToken:       getEnv("HUB_WORKER_TOKEN", ""),
			Mode:           strings.ToLower(getEnv("WORKER_MODE", "hybrid")),
			PollInterval:   getEnvDuration("WORKER_POLLING_INTERVAL", 30*time.Second),
			SubmitInterval: getEnvDuration("WORKER_SUBMIT_INTERVAL", 20*time.Second),

			AssetsDir:   getEnv("WORKER_ASSETS_DIR", "worker_assets"),
			ProgressDir: getEnv("WORKER_PROGRESS_DIR", "worker_progress"),
			OutboxDir:   getEnv("WORKER_OUTBOX_DIR", "worker_outbox"),
			OutputDir:   getEnv("WORKER_OUTPUT_DIR", "output"),
		},
		Generator: GeneratorConfig{
			APIKey:     getEnv("GENERATOR_API_KEY", getEnv("GEMINI_API_KEY", "")),
			BaseURL:    getEnv("GENERATOR_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
			Timeout:    getEnvDuration("GENERATOR_TIMEOUT", 120*time.Second),
			MaxRetries: getEnvInt("GENERATOR_MAX_RETRIES", 2),

			ModelPrimary:  getEnv("GENERATOR_MODEL_PRIMARY", "gemini-2.5-flash"),
			ModelFallback: getEnv("GENERATOR_MODEL_FALLBACK", "gemini-2.5-flash-lite"),
		},
		Search: SearchConfig{
			BaseURL:         getEnv("JSTAGE_BASE_URL", "https://api.jstage.jst.go.jp/searchapi/do"),
			RequestInterval: getEnvDuration("JSTAGE_REQUEST_INTERVAL", 2*time.Second),
			Timeout:         getEnvDuration("JSTAGE_TIMEOUT", 30*time.Second),
			UserAgent:       getEnv("JSTAGE_USER_AGENT", "dataset-hub/1.0"),
		},

		PlanFile: getEnv("PLAN_FILE", "plan.yaml"),
	}
}

func hubURL(host, port string) string {
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

func defaultWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	items := make([]string, 0, 4)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
