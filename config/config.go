package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"zoopla_fetcher/models"
)

type Config struct {
	Portal    PortalConfig
	HTTP      HTTPConfig
	Fetch     FetchConfig
	Storage   StorageConfig
	S3        S3Config
	Scheduler SchedulerConfig
	API       APIConfig
	LogPath   string
	Queries   map[string]*SavedQuery
}

type PortalConfig struct {
	BaseURL      string
	GraphQLURL   string
	FloorPlanCDN string
	ScriptPrefix string
}

type HTTPConfig struct {
	Timeout  time.Duration
	RPS      float64
	Burst    int
	ProxyURL string
}

type FetchConfig struct {
	Threads       int
	TesseractPath string
	StateLocator  string
	TempDir       string
}

type StorageConfig struct {
	DBPath      string
	PostgresURL string
	ExportDir   string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type APIConfig struct {
	Addr string
}

// SavedQuery is a named search run by the scheduler or on demand.
type SavedQuery struct {
	Name string             `yaml:"name"`
	Mode models.ExtractMode `yaml:"mode"`
	Spec models.QuerySpec   `yaml:"query"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Portal: PortalConfig{
			BaseURL:      getEnv("BASE_URL", "https://www.zoopla.co.uk"),
			GraphQLURL:   getEnv("GRAPHQL_URL", "https://api-graphql-lambda.prod.zoopla.co.uk/graphql"),
			FloorPlanCDN: getEnv("FLOORPLAN_CDN", "https://lid.zoocdn.com/u/2400/1800/"),
			ScriptPrefix: getEnv("SCRIPT_PREFIX", "https://r.zoocdn.com/_next/static/chunks/"),
		},
		HTTP: HTTPConfig{
			Timeout:  getEnvDuration("HTTP_TIMEOUT", 0),
			RPS:      getEnvFloat("REQUEST_RPS", 0),
			Burst:    getEnvInt("REQUEST_BURST", 1),
			ProxyURL: os.Getenv("PROXY_URL"),
		},
		Fetch: FetchConfig{
			Threads:       getEnvInt("FETCH_THREADS", 10),
			TesseractPath: getEnv("TESSERACT_PATH", "tesseract"),
			StateLocator:  getEnv("STATE_LOCATOR", "script"),
			TempDir:       os.Getenv("OCR_TEMP_DIR"),
		},
		Storage: StorageConfig{
			DBPath:      getEnv("DB_PATH", "fetcher.db"),
			PostgresURL: os.Getenv("POSTGRES_URL"),
			ExportDir:   getEnv("EXPORT_DIR", "exports"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "eu-west-2"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCHEDULE_CRON"),
			Interval: getEnvDuration("SCHEDULE_INTERVAL", 0),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8080"),
		},
		LogPath: getEnv("LOG_PATH", "fetcher.log"),
		Queries: make(map[string]*SavedQuery),
	}

	if err := cfg.LoadQueries(getEnv("QUERIES_DIR", "config/queries")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadQueries reads every *.yaml file in dir as a SavedQuery. A missing
// directory is not an error.
func (c *Config) LoadQueries(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		q, err := ParseQuery(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if q.Name == "" {
			q.Name = entry.Name()[:len(entry.Name())-len(".yaml")]
		}
		c.Queries[q.Name] = q
	}

	return nil
}

// ParseQuery decodes a saved query, starting from the portal's default toggles.
func ParseQuery(data []byte) (*SavedQuery, error) {
	q := &SavedQuery{
		Mode: models.ModeDetails,
		Spec: models.NewQuerySpec(""),
	}
	if err := yaml.Unmarshal(data, q); err != nil {
		return nil, err
	}

	mode, err := models.ParseExtractMode(string(q.Mode))
	if err != nil {
		return nil, err
	}
	q.Mode = mode

	if err := q.Spec.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
