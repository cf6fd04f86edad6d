package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment
	LogLevel   string // Logrus level name

	Currency            string // ISO currency code of every wallet
	LowBalanceThreshold int64  // Post-debit balance (minor units) below which the owner is warned
	ReferralBonus       int64  // Bonus credited to referrer and referee on first delivery
	StreakBonus         int64  // Bonus credited when the streak target is reached
	StreakTarget        int    // Consecutive delivered days that earn the streak bonus

	QueueName        string        // Redis key prefix of the delivery queue
	QueueMaxAttempts int           // Attempts before a job is dead-lettered
	QueueBaseBackoff time.Duration // Backoff after the first failure
	QueueMaxBackoff  time.Duration // Upper bound for backoff
	WorkerCount      int           // Concurrent queue consumers per worker process
	WorkerID         string        // Stable consumer identity for crash recovery
	BatchLockTTL     time.Duration // TTL of the manual batch advisory lock
	NotifyChannel    string        // Redis pub/sub channel for notifications
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	hostname, _ := os.Hostname() // Default worker identity
	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),     // Application port
		DBUser:     os.Getenv("DB_USER"),           // Database user
		DBPassword: os.Getenv("DB_PASSWORD"),       // Database password
		DBHost:     os.Getenv("DB_HOST"),           // Database host
		DBPort:     os.Getenv("DB_PORT"),           // Database port
		DBName:     os.Getenv("DB_NAME"),           // Database name
		JWTSecret:  os.Getenv("JWT_SECRET"),        // JWT secret key
		RedisAddr:  os.Getenv("REDIS_ADDR"),        // Redis server address
		RedisPass:  os.Getenv("REDIS_PASS"),        // Redis password
		RedisDB:    redisDB,                        // Redis database number
		IsProd:     os.Getenv("IS_PROD") == "true", // Is production environment
		LogLevel:   getEnv("LOG_LEVEL", "info"),    // Log level

		Currency:            getEnv("CURRENCY", "INR"),
		LowBalanceThreshold: getEnvInt64("LOW_BALANCE_THRESHOLD", 10000),
		ReferralBonus:       getEnvInt64("REFERRAL_BONUS", 5000),
		StreakBonus:         getEnvInt64("STREAK_BONUS", 10000),
		StreakTarget:        int(getEnvInt64("STREAK_TARGET", 30)),

		QueueName:        getEnv("QUEUE_NAME", "deliveries"),
		QueueMaxAttempts: int(getEnvInt64("QUEUE_MAX_ATTEMPTS", 5)),
		QueueBaseBackoff: getEnvDuration("QUEUE_BASE_BACKOFF", 5*time.Second),
		QueueMaxBackoff:  getEnvDuration("QUEUE_MAX_BACKOFF", 5*time.Minute),
		WorkerCount:      int(getEnvInt64("WORKER_CONCURRENCY", 4)),
		WorkerID:         getEnv("WORKER_ID", hostname),
		BatchLockTTL:     getEnvDuration("BATCH_LOCK_TTL", 30*time.Minute),
		NotifyChannel:    getEnv("NOTIFY_CHANNEL", "notifications"),
	}
}

// DSN builds the MySQL Data Source Name
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

// getEnv returns the variable or a fallback when unset
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt64 parses an integer variable, falling back on absence or parse error
func getEnvInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// getEnvDuration parses a Go duration string such as "5s" or "30m"
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
