package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvFile is the dotenv file read on startup and written by login.
const EnvFile = ".env"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	BaseURL  string
	Token    string
	Email    string
	Password string

	OutputDir       string
	OutputFormat    string
	DownloadQuality string
	StreamQuality   string
	StreamPlayer    string

	TestMode       bool
	ShowProgress   bool
	CheckFreeSpace bool
	Debug          bool

	HTTPTimeout   time.Duration
	ChunkSize     int
	RateLimitKBps int

	ControlAddr string
}

// Load reads configuration from .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(EnvFile); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		BaseURL:  getEnv("DAB_BASE_URL", "https://dab.yeet.su/api"),
		Token:    getEnv("DAB_TOKEN", ""),
		Email:    getEnv("DAB_EMAIL", ""),
		Password: getEnv("DAB_PASSWORD", ""),

		OutputDir:       getEnv("OUTPUT_DIRECTORY", "./downloads"),
		OutputFormat:    getEnv("OUTPUT_FORMAT", "flac"),
		DownloadQuality: getEnv("DOWNLOAD_QUALITY", ""),
		StreamQuality:   getEnv("STREAM_QUALITY", "27"),
		StreamPlayer:    getEnv("STREAM_PLAYER", "mpv"),

		TestMode:       getBool("TEST_MODE", false),
		ShowProgress:   getBool("SHOW_PROGRESS", true),
		CheckFreeSpace: getBool("CHECK_FREE_SPACE", true),
		Debug:          getBool("DEBUG", false),

		HTTPTimeout:   time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		ChunkSize:     getInt("CHUNK_SIZE", 8192),
		RateLimitKBps: getInt("RATE_LIMIT_KBPS", 0),

		ControlAddr: getEnv("CONTROL_ADDR", ""),
	}
}

// QualityFor returns the download quality tier for the given output format.
// FLAC maps to the lossless tier, everything else to the lossy one.
func (c *Config) QualityFor(format string) string {
	if c.DownloadQuality != "" {
		return c.DownloadQuality
	}
	if format == "flac" {
		return "27"
	}
	return "5"
}

// SaveCredentials persists the session token and account e-mail into the
// dotenv file, preserving unrelated keys.
func SaveCredentials(path, email, token string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		values = map[string]string{}
	}
	values["DAB_TOKEN"] = token
	if email != "" {
		values["DAB_EMAIL"] = email
	}
	return godotenv.Write(values, path)
}

// ClearCredentials removes the token and account credentials from the
// dotenv file.
func ClearCredentials(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil
	}
	delete(values, "DAB_TOKEN")
	delete(values, "DAB_EMAIL")
	delete(values, "DAB_PASSWORD")
	return godotenv.Write(values, path)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return v
}
