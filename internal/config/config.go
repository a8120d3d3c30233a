package config

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

type Config struct {
	Addr        string        // ":8080"
	DataDir     string        // "./data"
	BasePath    string        // "/files/"
	InfoStore   string        // "sidecar"|"sqlite"|"postgres"
	DBDSN       string        // sqlite path or postgres dsn
	LogLevel    string        // "info"
	LogJSON     bool          // true
	MaxSize     int64         // 0 -> unlimited
	ExpireAfter time.Duration // 0 -> uploads never expire
	ExpiryEvery time.Duration // 15m
	ExpiryBatch int           // 256
	CorsOrigins []string      // ["*"]
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		log.Printf("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func getbool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %t", key, v, def)
		return def
	}
	return b
}

func getlist(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// New reads the configuration from the environment. When ENV_FILE names a
// file it is loaded first; variables already set win over the file.
func New() Config {
	if f := os.Getenv("ENV_FILE"); f != "" {
		if err := godotenv.Load(f); err != nil {
			log.Printf("env file %s not loaded: %v", f, err)
		}
	}

	cfg := Config{
		Addr:        getenv("PORT", ":8080"),
		DataDir:     getenv("DATA_DIR", "./data"),
		BasePath:    normalizeBase(getenv("BASE_PATH", "/files/")),
		InfoStore:   strings.ToLower(getenv("INFO_STORE", "sidecar")),
		DBDSN:       os.Getenv("DB_DSN"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogJSON:     getbool("LOG_JSON", true),
		MaxSize:     getint64("MAX_SIZE", 0),
		ExpireAfter: getduration("EXPIRE_AFTER", 0),
		ExpiryEvery: getduration("EXPIRY_EVERY", 15*time.Minute),
		ExpiryBatch: int(getint64("EXPIRY_BATCH", 256)),
		CorsOrigins: getlist("CORS_ORIGINS", []string{"*"}),
	}
	if !strings.Contains(cfg.Addr, ":") {
		cfg.Addr = ":" + cfg.Addr
	}
	switch cfg.InfoStore {
	case "sidecar", "postgres":
	case "sqlite":
		if cfg.DBDSN == "" {
			cfg.DBDSN = filepath.Join(cfg.DataDir, "meta.db")
		}
	default:
		log.Printf("unknown INFO_STORE=%q, using sidecar", cfg.InfoStore)
		cfg.InfoStore = "sidecar"
	}
	return cfg
}

func normalizeBase(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// CorsOptions allows browser tus clients to send and read the protocol headers.
func (c Config) CorsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: c.CorsOrigins,
		AllowedMethods: []string{
			http.MethodOptions, http.MethodGet, http.MethodHead,
			http.MethodPost, http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			"Location", "Tus-Resumable", "Tus-Version", "Tus-Extension",
			"Tus-Max-Size", "Tus-Checksum-Algorithm",
			"Upload-Offset", "Upload-Length", "Upload-Defer-Length",
			"Upload-Metadata", "Upload-Concat", "Upload-Expires",
		},
		MaxAge: 86400,
	}
}
