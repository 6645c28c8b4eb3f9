package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Extraction service (OpenAI-compatible)
	ExtractionAPIKey  string
	ExtractionBaseURL string
	ExtractionModel   string
	ExtractionTimeout time.Duration

	// Trial registry (ClinicalTrials.gov)
	RegistryBaseURL        string
	RegistryRequestTimeout time.Duration
	RegistryMaxExamples    int

	// Protocol parsing
	AttributeSchemaPath string
	ParseCacheTTL       time.Duration

	// Simulation
	DrawBudgetFactor   int
	SimulationWorkers  int
	ResponseThreshold  float64
	AdverseThreshold   float64
	DosingSchedulePath string
	DrugModelName      string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "trialforge"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "trialforge123"),
		PostgresDB:       getEnv("POSTGRES_DB", "trialforge"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "trialforge-platform"),

		ExtractionAPIKey:  getEnv("EXTRACTION_API_KEY", ""),
		ExtractionBaseURL: getEnv("EXTRACTION_BASE_URL", "https://api.openai.com/v1"),
		ExtractionModel:   getEnv("EXTRACTION_MODEL_NAME", "gpt-4"),
		ExtractionTimeout: getDuration("EXTRACTION_TIMEOUT", 30*time.Second),

		RegistryBaseURL:        getEnv("REGISTRY_BASE_URL", "https://clinicaltrials.gov/api/query/full_studies"),
		RegistryRequestTimeout: getDuration("REGISTRY_REQUEST_TIMEOUT", 15*time.Second),
		RegistryMaxExamples:    getIntEnv("REGISTRY_MAX_EXAMPLES", 2),

		AttributeSchemaPath: getEnv("ATTRIBUTE_SCHEMA_PATH", ""),
		ParseCacheTTL:       getDuration("PARSE_CACHE_TTL", 15*time.Minute),

		DrawBudgetFactor:   getIntEnv("DRAW_BUDGET_FACTOR", 50),
		SimulationWorkers:  getIntEnv("SIMULATION_WORKERS", 0),
		ResponseThreshold:  getFloatEnv("RESPONSE_THRESHOLD", 10.0),
		AdverseThreshold:   getFloatEnv("ADVERSE_THRESHOLD", -15.0),
		DosingSchedulePath: getEnv("DOSING_SCHEDULE_PATH", ""),
		DrugModelName:      getEnv("DRUG_MODEL_NAME", "saturating"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
