package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-cloudclip/internal/api"
	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/config"
	"github.com/npezzotti/go-cloudclip/internal/database"
	"github.com/npezzotti/go-cloudclip/internal/ratelimit"
	"github.com/npezzotti/go-cloudclip/internal/server"
	"github.com/npezzotti/go-cloudclip/internal/stats"
	"github.com/redis/go-redis/v9"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	showVersion    bool
	addr           string
	prefix         string
	authSecret     string
	authSecretHash string
	history        int
	storageDir     string
	blobBackend    string
	ledgerBackend  string
	dsn            string
	redisAddr      string
	rateBackend    string
	rateLimit      float64
	rateBurst      int
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a config.json file")
	flag.BoolVar(&showVersion, "v", false, "print the version and exit")
	flag.StringVar(&addr, "addr", "", "server address, overrides the config file")
	flag.StringVar(&prefix, "prefix", "", "URL prefix of the API routes")
	flag.StringVar(&authSecret, "auth", "", "shared secret required to publish and join")
	flag.StringVar(&authSecretHash, "auth-hash", "", "bcrypt hash of the shared secret")
	flag.IntVar(&history, "history", 0, "messages kept per room")
	flag.StringVar(&storageDir, "storage", "", "directory for the disk blob backend")
	flag.StringVar(&blobBackend, "blob-backend", "", "blob backend: memory, disk or redis")
	flag.StringVar(&ledgerBackend, "ledger", "", "message ledger: memory, postgres or sqlite")
	flag.StringVar(&dsn, "dsn", "", "database connection string for the sql ledgers")
	flag.StringVar(&redisAddr, "redis", "", "redis address for the redis backends")
	flag.StringVar(&rateBackend, "rate-backend", "", "rate limiter: local or redis")
	flag.Float64Var(&rateLimit, "rate", 0, "requests per second allowed per client")
	flag.IntVar(&rateBurst, "burst", 0, "request burst allowed per client")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if showVersion {
		fmt.Println(server.Version)
		return
	}

	logger := log.New(os.Stderr, "[cloudclip] ", log.LstdFlags)

	cfg, err := config.NewConfig(configPath, applyFlags)
	if err != nil {
		logger.Fatal("config: ", err)
	}
	if cfg.GeneratedSecret {
		logger.Printf("generated access secret: %s", cfg.AuthSecret)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	ledger, err := openLedger(cfg)
	if err != nil {
		logger.Fatal("ledger open: ", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Println("ledger close:", err)
		}
	}()

	blobs, closeBlobs, err := openBlobStore(cfg, logger, redisClient)
	if err != nil {
		logger.Fatal("blob store open: ", err)
	}
	defer closeBlobs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var limiter ratelimit.Limiter
	switch cfg.RateBackend {
	case config.BackendRedis:
		limiter = ratelimit.NewRedisLimiter(redisClient, "cloudclip:rate:", cfg.RateBurst, time.Duration(float64(cfg.RateBurst)/cfg.RateLimit*float64(time.Second)))
	default:
		local := ratelimit.NewLocalLimiter(cfg.RateLimit, cfg.RateBurst, 10*time.Minute)
		go local.Run(ctx, time.Minute)
		limiter = local
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	gate := auth.NewGate(cfg.AuthSecret, cfg.AuthSecretHash)
	rooms := server.NewDispatcher(logger, server.Options{
		Version:          server.Version,
		HistoryLimit:     cfg.HistoryLimit,
		TextLimit:        cfg.TextLimit,
		FileLimit:        cfg.FileLimit,
		FileChunk:        cfg.FileChunk,
		FileExpire:       cfg.FileExpire,
		BlobWriteTimeout: cfg.BlobWriteTimeout,
		IdleTimeout:      cfg.RoomIdleTimeout,
		SweepInterval:    cfg.SweepInterval,
	}, ledger, blobs, gate, statsUpdater)

	srv := api.NewCloudClipApp(mux, logger, rooms, ledger, blobs, gate, limiter, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go rooms.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer shutDownCancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	if err := rooms.Shutdown(shutDownCtx); err != nil {
		logger.Println("rooms shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// applyFlags copies the flags given on the command line over the config.
func applyFlags(c *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			c.ServerAddr = addr
		case "prefix":
			c.Prefix = prefix
		case "auth":
			c.AuthSecret = authSecret
			c.GeneratedSecret = false
		case "auth-hash":
			c.AuthSecretHash = authSecretHash
		case "history":
			c.HistoryLimit = history
		case "storage":
			c.StorageDir = storageDir
			if c.BlobBackend == config.BackendMemory {
				c.BlobBackend = config.BackendDisk
			}
		case "blob-backend":
			c.BlobBackend = blobBackend
		case "ledger":
			c.LedgerBackend = ledgerBackend
		case "dsn":
			c.DatabaseDSN = dsn
		case "redis":
			c.RedisAddr = redisAddr
		case "rate-backend":
			c.RateBackend = rateBackend
		case "rate":
			c.RateLimit = rateLimit
		case "burst":
			c.RateBurst = rateBurst
		case "allowed-origins":
			c.AllowedOrigins = allowedOrigins
		}
	})
}

func openLedger(cfg *config.Config) (database.MessageLedger, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		return database.NewPgLedger(cfg.DatabaseDSN)
	case config.BackendSqlite:
		return database.NewSqliteLedger(cfg.DatabaseDSN)
	default:
		return database.NewMemoryLedger(), nil
	}
}

func openBlobStore(cfg *config.Config, logger *log.Logger, client *redis.Client) (blob.Store, func(), error) {
	switch cfg.BlobBackend {
	case config.BackendDisk:
		store, err := blob.NewDiskStore(cfg.StorageDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Println("blob store close:", err)
			}
		}, nil
	case config.BackendRedis:
		return blob.NewRedisStore(client, "cloudclip:blob:"), func() {}, nil
	default:
		return blob.NewMemoryStore(), func() {}, nil
	}
}
