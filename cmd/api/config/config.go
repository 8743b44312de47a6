package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                 string
	DataDir              string
	EngineBinary         string
	DefaultEngineVersion int
	MaxExtractSize       string
	JwtSecret            string
	Version              string
	Env                  string

	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelServiceInstanceID string
	OtelInsecure          bool
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DataDir:              getEnv("DATA_DIR", "/var/lib/imageman"),
		EngineBinary:         getEnv("ENGINE_BINARY", "imagectl"),
		DefaultEngineVersion: getEnvInt("DEFAULT_ENGINE_VERSION", 2),
		MaxExtractSize:       getEnv("MAX_EXTRACT_SIZE", "4GB"),
		JwtSecret:            getEnv("JWT_SECRET", ""),
		Version:              getEnv("VERSION", "dev"),
		Env:                  getEnv("ENV", "development"),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "imageman"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", hostname),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
