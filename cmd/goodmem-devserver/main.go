// Command goodmem-devserver serves an in-process memory store over the
// Goodmem REST API for local development and demos.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/becomeliminal/nim-goodmem/devserver"
	"github.com/becomeliminal/nim-goodmem/memory/embedder/hashing"
	"github.com/becomeliminal/nim-goodmem/memory/store/chromem"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	store := chromem.New(
		chromem.WithEmbedder(hashing.New(cfg.Dimensions)),
		chromem.WithLogger(logger),
	)
	defer store.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           devserver.New(store, devserver.WithAPIKey(cfg.APIKey), devserver.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting goodmem dev server", "addr", cfg.ListenAddr, "auth", cfg.APIKey != "", "dimensions", cfg.Dimensions)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// ------------ config & helpers ------------

type config struct {
	ListenAddr string
	APIKey     string
	Dimensions int
	Debug      bool
}

func loadConfig() config {
	return config{
		ListenAddr: getenv("GOODMEM_DEV_ADDR", ":8080"),
		APIKey:     os.Getenv("GOODMEM_DEV_API_KEY"),
		Dimensions: getenvInt("GOODMEM_DEV_DIMENSIONS", hashing.DefaultDimensions),
		Debug:      getenvBool("GOODMEM_DEBUG", false),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
