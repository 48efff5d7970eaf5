// Command goodmem-chat is a terminal chat with long-term memory. Turns are
// captured and recalled automatically, and the model can save and fetch
// memories explicitly.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/becomeliminal/nim-goodmem/chatserver"
	"github.com/becomeliminal/nim-goodmem/core"
	"github.com/becomeliminal/nim-goodmem/engine"
	"github.com/becomeliminal/nim-goodmem/memory"
	"github.com/becomeliminal/nim-goodmem/memory/store/chromem"
	"github.com/becomeliminal/nim-goodmem/memory/store/goodmem"
	"github.com/becomeliminal/nim-goodmem/tools"
)

func main() {
	_ = godotenv.Load()

	var flags chatFlags
	flags.register(flag.CommandLine)
	flag.Parse()

	cfg, err := loadChatConfig(flags.configPath)
	if err != nil {
		log.Fatal(err)
	}
	flags.apply(flag.CommandLine, &cfg)

	level := slog.LevelInfo
	if cfg.Memory.Debug || memory.FromEnv().Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	if anthropicKey == "" {
		log.Fatal("ANTHROPIC_API_KEY environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, anthropicKey, logger, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg chatConfig, anthropicKey string, logger *slog.Logger, in io.Reader, out io.Writer) error {
	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}

	var opts []engine.Option
	opts = append(opts, engine.WithLogger(logger))

	if !cfg.DisablePlugin {
		plugin, err := memory.NewPlugin(backend, cfg.Memory, memory.WithLogger(logger))
		if err != nil {
			return err
		}
		defer plugin.Close()
		opts = append(opts, engine.WithPlugin(plugin))
	}

	registry := engine.NewToolRegistry()
	if !cfg.DisableTools {
		memTools, err := tools.NewMemoryToolsWithBackend(backend, cfg.Memory, memory.WithLogger(logger))
		if err != nil {
			return err
		}
		for _, t := range memTools {
			registry.Register(t)
			if c, ok := t.(io.Closer); ok {
				defer c.Close()
			}
		}
	}

	client := anthropic.NewClient(option.WithAPIKey(anthropicKey))
	eng := engine.NewEngine(&client.Messages, registry, opts...)

	if cfg.Serve != "" {
		return serve(ctx, cfg, eng, logger)
	}
	return repl(ctx, cfg, eng, logger, in, out)
}

// serve runs the WebSocket chat until ctx is cancelled.
func serve(ctx context.Context, cfg chatConfig, eng *engine.Engine, logger *slog.Logger) error {
	srv := &http.Server{
		Addr: cfg.Serve,
		Handler: chatserver.New(eng, chatserver.Config{
			AppName:      cfg.AppName,
			SystemPrompt: cfg.SystemPrompt,
			Model:        cfg.Model,
		}, chatserver.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving chat", "ws", "ws://"+cfg.Serve+"/ws?user=<id>")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// repl chats on the terminal as cfg.UserID.
func repl(ctx context.Context, cfg chatConfig, eng *engine.Engine, logger *slog.Logger, in io.Reader, out io.Writer) error {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	inv := &core.Invocation{AppName: cfg.AppName, UserID: cfg.UserID, SessionID: sessionID}

	fmt.Fprintf(out, "goodmem-chat: user %s, session %s\n", cfg.UserID, sessionID)
	fmt.Fprintln(out, "Commands: /attach <file>, /quit")

	var (
		history []anthropic.MessageParam
		pending []core.Attachment
	)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/attach "):
			a, err := readAttachment(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			pending = append(pending, a)
			fmt.Fprintf(out, "attached %s (%s); it will be sent with your next message\n", a.Name, a.MIMEType)
			continue
		}

		result, err := eng.Run(ctx, &engine.Input{
			Invocation:   inv,
			Message:      core.Content{Text: line, Attachments: pending},
			History:      history,
			SystemPrompt: cfg.SystemPrompt,
			Model:        cfg.Model,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		pending = nil
		history = result.History

		for _, t := range result.ToolsUsed {
			logger.Debug("tool used", "tool", t.Tool, "duration_ms", t.DurationMs, "err", t.Error)
		}
		fmt.Fprintln(out, result.Text)
	}
}

// openBackend returns an in-process store with -local, or a Goodmem client
// configured from the layered memory configuration.
func openBackend(cfg chatConfig, logger *slog.Logger) (memory.Backend, error) {
	if cfg.Local {
		logger.Info("using in-process memory store")
		return chromem.New(chromem.WithLogger(logger)), nil
	}
	client, err := goodmem.NewFromConfig(memory.Load(cfg.Memory), goodmem.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func readAttachment(path string) (core.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Attachment{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return core.Attachment{Name: filepath.Base(path), MIMEType: ct, Data: data}, nil
}
