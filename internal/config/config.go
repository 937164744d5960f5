package config

import (
	"os"
)

type Config struct {
	MongoURI          string
	MongoDB           string
	RedisAddr         string
	RealtimeURL       string
	StoragePublicBase string
}

func Load() *Config {
	return &Config{
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:           getEnv("MONGO_DB", "campuschat"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RealtimeURL:       getEnv("REALTIME_URL", "ws://localhost:9090/realtime"),
		StoragePublicBase: getEnv("STORAGE_PUBLIC_BASE", "http://localhost:9090/storage"),
	}
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}
