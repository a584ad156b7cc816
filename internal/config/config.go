package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
)

type Config struct {
	NodeInfo NodeInfo `yaml:"nodeInfo"`
	Server   Server   `yaml:"server"`
}

type NodeInfo struct {
	FQDN       string        `yaml:"fqdn"`
	PrivateKey string        `yaml:"privatekey"`
	TokenTTL   time.Duration `yaml:"tokenTTL"`

	// ---
	SignerID string `yaml:"-"`
}

type Server struct {
	ListenAddr          string        `yaml:"listenAddr"`
	PostgresDsn         string        `yaml:"postgresDsn"`
	SlowQueryThreshold  time.Duration `yaml:"slowQueryThreshold"`
	RedisAddr           string        `yaml:"redisAddr"`
	RedisPassword       string        `yaml:"redisPassword"`
	RedisDB             int           `yaml:"redisDB"`
	MemcachedAddr       string        `yaml:"memcachedAddr"`
	EnableTrace         bool          `yaml:"enableTrace"`
	TraceEndpoint       string        `yaml:"traceEndpoint"`
	FirebaseProjectID   string        `yaml:"firebaseProjectID"`
	FirebaseCredentials string        `yaml:"firebaseCredentials"`
	LogLevel            string        `yaml:"logLevel"`
	LogFormat           string        `yaml:"logFormat"`
}

func defaults() Config {
	return Config{
		NodeInfo: NodeInfo{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Server: Server{
			ListenAddr:         ":8000",
			PostgresDsn:        "host=localhost user=postgres password=postgres dbname=cozykost port=5432 sslmode=disable",
			SlowQueryThreshold: 300 * time.Millisecond,
			RedisAddr:          "localhost:6379",
			MemcachedAddr:      "localhost:11211",
			LogLevel:           "info",
			LogFormat:          "text",
		},
	}
}

// Load reads the yaml file at path, then applies .env and COZYKOST_* environment
// overrides. A missing file is not an error; the private key is required.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	config := defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
		if err == nil {
			defer file.Close()
			err = yaml.NewDecoder(file).Decode(&config)
			if err != nil {
				return Config{}, err
			}
		}
	}

	config.applyEnv()

	if config.NodeInfo.PrivateKey == "" {
		return Config{}, errors.New("nodeInfo.privatekey is required")
	}

	signerID, err := cozykost.PrivKeyToAddr(config.NodeInfo.PrivateKey, cozykost.SignerPrefix)
	if err != nil {
		return Config{}, err
	}
	config.NodeInfo.SignerID = signerID

	return config, nil
}

func (c *Config) applyEnv() {
	c.NodeInfo.FQDN = getEnv("COZYKOST_FQDN", c.NodeInfo.FQDN)
	c.NodeInfo.PrivateKey = getEnv("COZYKOST_PRIVATE_KEY", c.NodeInfo.PrivateKey)
	c.NodeInfo.TokenTTL = getDurationEnv("COZYKOST_TOKEN_TTL", c.NodeInfo.TokenTTL)

	c.Server.ListenAddr = getEnv("COZYKOST_LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.PostgresDsn = getEnv("COZYKOST_POSTGRES_DSN", c.Server.PostgresDsn)
	c.Server.SlowQueryThreshold = getDurationEnv("COZYKOST_SLOW_QUERY_THRESHOLD", c.Server.SlowQueryThreshold)
	c.Server.RedisAddr = getEnv("COZYKOST_REDIS_ADDR", c.Server.RedisAddr)
	c.Server.RedisPassword = getEnv("COZYKOST_REDIS_PASSWORD", c.Server.RedisPassword)
	c.Server.RedisDB = getIntEnv("COZYKOST_REDIS_DB", c.Server.RedisDB)
	c.Server.MemcachedAddr = getEnv("COZYKOST_MEMCACHED_ADDR", c.Server.MemcachedAddr)
	c.Server.EnableTrace = getBoolEnv("COZYKOST_ENABLE_TRACE", c.Server.EnableTrace)
	c.Server.TraceEndpoint = getEnv("COZYKOST_TRACE_ENDPOINT", c.Server.TraceEndpoint)
	c.Server.FirebaseProjectID = getEnv("COZYKOST_FIREBASE_PROJECT_ID", c.Server.FirebaseProjectID)
	c.Server.FirebaseCredentials = getEnv("COZYKOST_FIREBASE_CREDENTIALS", c.Server.FirebaseCredentials)
	c.Server.LogLevel = getEnv("COZYKOST_LOG_LEVEL", c.Server.LogLevel)
	c.Server.LogFormat = getEnv("COZYKOST_LOG_FORMAT", c.Server.LogFormat)
}

// Domain returns the settings the use cases need.
func (c Config) Domain() domain.Config {
	return domain.Config{
		FQDN:       c.NodeInfo.FQDN,
		PrivateKey: c.NodeInfo.PrivateKey,
		SignerID:   c.NodeInfo.SignerID,
		TokenTTL:   c.NodeInfo.TokenTTL,
	}
}

// FirebaseEnabled reports whether Firebase ID tokens should be accepted.
func (c Config) FirebaseEnabled() bool {
	return c.Server.FirebaseProjectID != "" || c.Server.FirebaseCredentials != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
