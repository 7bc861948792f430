package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vkotelev/nearchat/internal/models"
)

type Config struct {
	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	ES_URL      string
	ES_USER     string
	ES_PASSWORD string

	KAFKA_ADDRESS string

	JWT_SECRET     string
	REFRESH_SECRET string
	TOKEN_ISSUER   string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ProximityRadius is the maximum distance in meters two chat
	// participants may drift apart before the expiry countdown starts.
	ProximityRadius   float64
	GracePeriod       time.Duration
	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration

	LogLevel string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:           os.Getenv("DB_HOST"),
		DB_PORT:           os.Getenv("DB_PORT"),
		DB_USER:           os.Getenv("DB_USER"),
		DB_PASSWORD:       os.Getenv("DB_PASSWORD"),
		DB_NAME:           os.Getenv("DB_NAME"),
		ES_URL:            os.Getenv("ES_URL"),
		ES_USER:           os.Getenv("ES_USER"),
		ES_PASSWORD:       os.Getenv("ES_PASSWORD"),
		KAFKA_ADDRESS:     os.Getenv("KAFKA_ADDRESS"),
		JWT_SECRET:        os.Getenv("JWT_SECRET"),
		REFRESH_SECRET:    os.Getenv("REFRESH_SECRET"),
		TOKEN_ISSUER:      getenvDefault("TOKEN_ISSUER", "nearchat"),
		AccessTTL:         envSeconds("ACCESS_TTL_SECONDS", 15*time.Minute),
		RefreshTTL:        envSeconds("REFRESH_TTL_SECONDS", 7*24*time.Hour),
		ProximityRadius:   envFloat("PROXIMITY_RADIUS_M", 1000),
		GracePeriod:       envSeconds("CHAT_GRACE_SECONDS", 24*time.Hour),
		ReconcileInterval: envSeconds("RECONCILE_INTERVAL_SECONDS", time.Minute),
		HeartbeatInterval: envSeconds("HEARTBEAT_INTERVAL_SECONDS", 30*time.Second),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
	}

	if config.JWT_SECRET == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.REFRESH_SECRET == "" {
		return nil, fmt.Errorf("REFRESH_SECRET is required")
	}

	return config, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Notice: invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return time.Duration(n) * time.Second
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("Notice: invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return f
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB_USER, cfg.DB_PASSWORD, cfg.DB_HOST, cfg.DB_PORT, cfg.DB_NAME,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.Message{},
		&models.Location{},
		&models.Block{},
	); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}
