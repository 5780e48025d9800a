package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds agent and CLI configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	API       APIConfig
	Recording RecordingConfig
	Session   SessionConfig
	Redis     RedisConfig
	WebRTC    WebRTCConfig
	AWS       AWSConfig
}

// ServerConfig holds the local control API settings.
type ServerConfig struct {
	Addr               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// APIConfig points at the remote recordings store.
type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// RecordingConfig holds capture and fallback settings.
type RecordingConfig struct {
	CaptureAudio         bool
	CaptureWaitTimeout   time.Duration // how long Start waits for the browser to attach a capture stream
	ExportDir            string        // local download fallback directory; empty = os.TempDir()/screenrec
	UploadFallbackExport bool          // export the artifact locally when upload fails
}

// SessionConfig controls where the auth session is persisted.
type SessionConfig struct {
	File       string
	Passphrase string // when set the session file is sealed
}

// RedisConfig holds Redis connection settings for the session event mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WebRTCConfig holds STUN/TURN ICE server URLs for the WebRTC capture source.
type WebRTCConfig struct {
	ICEUrls []string
}

// AWSConfig holds credentials and the bucket used by the S3 export target. Empty ExportBucket disables it.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string // optional, e.g. MinIO
	ExportBucket         string
	PresignExpireMinutes int
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Addr:               getEnv("AGENT_ADDR", "127.0.0.1:8787"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0), // uploads and downloads can be long
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://127.0.0.1:5500,http://localhost:5500"),
		},
		API: APIConfig{
			BaseURL:        strings.TrimRight(getEnv("API_BASE_URL", "http://127.0.0.1:8000"), "/"),
			RequestTimeout: time.Duration(getEnvInt("API_TIMEOUT_SEC", 30)) * time.Second,
		},
		Recording: RecordingConfig{
			CaptureAudio:         getEnvBool("CAPTURE_AUDIO", true),
			CaptureWaitTimeout:   time.Duration(getEnvInt("CAPTURE_WAIT_SEC", 30)) * time.Second,
			ExportDir:            getEnv("EXPORT_DIR", filepath.Join(os.TempDir(), "screenrec")),
			UploadFallbackExport: getEnvBool("UPLOAD_FALLBACK_EXPORT", true),
		},
		Session: SessionConfig{
			File:       getEnv("SESSION_FILE", defaultSessionFile()),
			Passphrase: getEnv("SESSION_PASSPHRASE", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		WebRTC: WebRTCConfig{
			ICEUrls: splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			ExportBucket:         getEnv("AWS_S3_EXPORT_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
	}
	return cfg, nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".screenrec-session"
	}
	return filepath.Join(home, ".screenrec", "session")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
