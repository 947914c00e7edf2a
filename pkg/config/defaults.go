// Package config provides centralized default values for FashionMirror
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseInt(valStr, 10, 64); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Widget Embed Configuration
	EmbedBaseURL     string
	EmbedTokenSecret string
	EmbedTokenTTL    time.Duration
	WidgetVersion    string

	// Upload Limits
	MaxUploadBytes int64
	MaxFetchBytes  int64
	ThumbnailWidth int

	// Session / Quota Configuration
	MaxSessionsPerMerchant int
	SessionTTL             time.Duration
	ResultTTL              time.Duration

	// Generation Service
	GenerationServiceURL string
	GenerationTimeout    time.Duration
	FetchTimeout         time.Duration

	// Synthetic Progress (UX approximation, see DESIGN.md)
	ProgressTickInterval time.Duration
	ProgressTickStep     int
	ProgressTickCap      int

	// Websocket Configuration
	WSWriteWait      time.Duration
	WSPongWait       time.Duration
	WSMaxMessageSize int64
	WSSendBuffer     int

	// Merchant Registry
	MerchantRegistryPath string
	ActivationTokenTTL   time.Duration
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Widget Embed Configuration
	EmbedBaseURL = getEnvString("EMBED_BASE_URL", "https://widget.fashionmirror.shop/embed")
	EmbedTokenSecret = getEnvString("EMBED_TOKEN_SECRET", "dev-embed-secret")
	EmbedTokenTTL = getEnvDuration("EMBED_TOKEN_TTL", 30*time.Minute)
	WidgetVersion = getEnvString("WIDGET_VERSION", "1.4.0")

	// Upload Limits
	MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", 10*1024*1024)
	MaxFetchBytes = getEnvInt64("MAX_FETCH_BYTES", 15*1024*1024)
	ThumbnailWidth = getEnvInt("THUMBNAIL_WIDTH", 300)

	// Session / Quota Configuration
	MaxSessionsPerMerchant = getEnvInt("MAX_SESSIONS_PER_MERCHANT", 500)
	SessionTTL = getEnvDuration("SESSION_TTL", 30*time.Minute)
	ResultTTL = getEnvDuration("RESULT_TTL", 24*time.Hour)

	// Generation Service
	GenerationServiceURL = getEnvString("GENERATION_SERVICE_URL", "http://localhost:9090")
	GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", 120*time.Second)
	FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 20*time.Second)

	// Synthetic Progress
	ProgressTickInterval = getEnvDuration("PROGRESS_TICK_INTERVAL", 800*time.Millisecond)
	ProgressTickStep = getEnvInt("PROGRESS_TICK_STEP", 7)
	ProgressTickCap = getEnvInt("PROGRESS_TICK_CAP", 90)

	// Websocket Configuration
	WSWriteWait = getEnvDuration("WS_WRITE_WAIT", 10*time.Second)
	WSPongWait = getEnvDuration("WS_PONG_WAIT", 60*time.Second)
	WSMaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 64*1024)
	WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 16)

	// Merchant Registry
	MerchantRegistryPath = getEnvString("MERCHANT_REGISTRY_PATH", "config/merchants.json")
	ActivationTokenTTL = getEnvDuration("ACTIVATION_TOKEN_TTL", 48*time.Hour)
}
