package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendDisk     = "disk"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSqlite   = "sqlite"
	BackendLocal    = "local"
)

type Config struct {
	ServerAddr     string
	Prefix         string
	AllowedOrigins []string

	HistoryLimit int
	TextLimit    int
	FileLimit    int64
	FileChunk    int64
	FileExpire   time.Duration

	HeartbeatTimeout time.Duration
	BlobWriteTimeout time.Duration
	RoomIdleTimeout  time.Duration
	SweepInterval    time.Duration

	AuthSecret     string
	AuthSecretHash string
	// GeneratedSecret is set when the config file asked for a random secret.
	GeneratedSecret bool

	BlobBackend   string
	StorageDir    string
	LedgerBackend string
	DatabaseDSN   string
	RedisAddr     string

	RateBackend string
	RateLimit   float64
	RateBurst   int
}

func Default() *Config {
	return &Config{
		ServerAddr:       ":9501",
		Prefix:           "/api",
		HistoryLimit:     50,
		TextLimit:        4096,
		FileLimit:        104857600,
		FileChunk:        2097152,
		FileExpire:       time.Hour,
		HeartbeatTimeout: 60 * time.Second,
		BlobWriteTimeout: 10 * time.Second,
		RoomIdleTimeout:  60 * time.Second,
		SweepInterval:    5 * time.Minute,
		BlobBackend:      BackendMemory,
		StorageDir:       "./storage",
		LedgerBackend:    BackendMemory,
		RateBackend:      BackendLocal,
		RateLimit:        5,
		RateBurst:        20,
	}
}

// fileConfig mirrors the config.json layout used by cloud-clip servers.
type fileConfig struct {
	Server struct {
		Host       any    `json:"host"`
		Port       int    `json:"port"`
		Prefix     string `json:"prefix"`
		History    int    `json:"history"`
		Auth       any    `json:"auth"`
		AuthHash   string `json:"authHash"`
		StorageDir string `json:"storageDir"`
	} `json:"server"`
	Text struct {
		Limit int `json:"limit"`
	} `json:"text"`
	File struct {
		Expire int   `json:"expire"`
		Chunk  int64 `json:"chunk"`
		Limit  int64 `json:"limit"`
	} `json:"file"`
}

// LoadFile overlays the settings present in the JSON file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	host, err := firstHost(fc.Server.Host)
	if err != nil {
		return err
	}
	if host != "" || fc.Server.Port != 0 {
		h, p, _ := net.SplitHostPort(c.ServerAddr)
		if host != "" {
			h = host
		}
		if fc.Server.Port != 0 {
			p = strconv.Itoa(fc.Server.Port)
		}
		c.ServerAddr = net.JoinHostPort(h, p)
	}

	if fc.Server.Prefix != "" {
		c.Prefix = fc.Server.Prefix
	}
	if fc.Server.History != 0 {
		c.HistoryLimit = fc.Server.History
	}
	if fc.Server.StorageDir != "" {
		c.StorageDir = fc.Server.StorageDir
		if c.BlobBackend == BackendMemory {
			c.BlobBackend = BackendDisk
		}
	}
	if fc.Server.AuthHash != "" {
		c.AuthSecretHash = fc.Server.AuthHash
	}
	if err := c.applyAuth(fc.Server.Auth); err != nil {
		return err
	}

	if fc.Text.Limit != 0 {
		c.TextLimit = fc.Text.Limit
	}
	if fc.File.Expire != 0 {
		c.FileExpire = time.Duration(fc.File.Expire) * time.Second
	}
	if fc.File.Chunk != 0 {
		c.FileChunk = fc.File.Chunk
	}
	if fc.File.Limit != 0 {
		c.FileLimit = fc.File.Limit
	}

	return nil
}

func firstHost(v any) (string, error) {
	switch host := v.(type) {
	case nil:
		return "", nil
	case string:
		return host, nil
	case []any:
		for _, h := range host {
			if s, ok := h.(string); ok && s != "" {
				return s, nil
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("server.host must be a string or a list of strings, got %T", v)
	}
}

// applyAuth accepts false, true (generate a secret), a string or a number.
func (c *Config) applyAuth(v any) error {
	switch auth := v.(type) {
	case nil:
	case bool:
		if !auth {
			c.AuthSecret = ""
			return nil
		}
		secret, err := GenerateSecret()
		if err != nil {
			return err
		}
		c.AuthSecret = secret
		c.GeneratedSecret = true
	case string:
		c.AuthSecret = auth
	case float64:
		c.AuthSecret = strconv.FormatFloat(auth, 'f', -1, 64)
	default:
		return fmt.Errorf("server.auth must be a bool, string or number, got %T", v)
	}

	return nil
}

// GenerateSecret returns a random URL-safe secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Validate normalizes c and reports the first invalid setting.
func (c *Config) Validate() error {
	c.Prefix = "/" + strings.Trim(c.Prefix, "/")
	if c.Prefix == "/" {
		c.Prefix = ""
	}

	switch {
	case c.ServerAddr == "":
		return errors.New("server address cannot be empty")
	case c.HistoryLimit < 1:
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	case c.TextLimit < 1:
		return fmt.Errorf("text limit must be positive, got %d", c.TextLimit)
	case c.FileLimit < 1:
		return fmt.Errorf("file limit must be positive, got %d", c.FileLimit)
	case c.FileChunk < 1:
		return fmt.Errorf("file chunk must be positive, got %d", c.FileChunk)
	case c.FileExpire <= 0:
		return fmt.Errorf("file expire must be positive, got %s", c.FileExpire)
	case c.HeartbeatTimeout <= 0 || c.BlobWriteTimeout <= 0 || c.RoomIdleTimeout <= 0 || c.SweepInterval <= 0:
		return errors.New("timeouts and intervals must be positive")
	case c.RateLimit <= 0 || c.RateBurst < 1:
		return fmt.Errorf("rate limit must be positive, got %g/s burst %d", c.RateLimit, c.RateBurst)
	}

	switch c.BlobBackend {
	case BackendMemory:
	case BackendDisk:
		if c.StorageDir == "" {
			return errors.New("storage directory cannot be empty for the disk blob backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address cannot be empty for the redis blob backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}

	switch c.LedgerBackend {
	case BackendMemory:
	case BackendPostgres, BackendSqlite:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty for the %s ledger", c.LedgerBackend)
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}

	switch c.RateBackend {
	case BackendLocal:
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address cannot be empty for the redis rate limiter")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateBackend)
	}

	return nil
}

// NewConfig loads the optional file at path over the defaults, applies
// override and validates the result.
func NewConfig(path string, override func(*Config)) (*Config, error) {
	c := Default()

	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if override != nil {
		override(c)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}
