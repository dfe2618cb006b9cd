package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Harshitk-cp/synapse/internal/buildconfig"
	"github.com/Harshitk-cp/synapse/internal/config"
	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/embedding"
	"github.com/Harshitk-cp/synapse/internal/engine"
	"github.com/Harshitk-cp/synapse/internal/llm"
	"github.com/Harshitk-cp/synapse/internal/sink"
	"github.com/Harshitk-cp/synapse/internal/storage/jsonfile"
	"github.com/Harshitk-cp/synapse/internal/storage/postgres"
	"github.com/Harshitk-cp/synapse/internal/storage/sqlitestore"
)

var rootCmd = &cobra.Command{
	Use:           "synapse",
	Short:         "Graph-native memory for AI agents",
	Long:          `Synapse stores agent memories as a typed, weighted knowledge graph with provenance, conflict detection and biological decay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("synapse %s\n", buildconfig.String())
	},
}

// app bundles everything a command needs: the loaded engine plus the
// teardown for storage, sinks and the logger.
type app struct {
	eng     *engine.Engine
	logger  *zap.Logger
	webhook *sink.Webhook
	closers []func()
}

func openApp(ctx context.Context) (*app, error) {
	_ = config.Load()

	logger := newLogger()
	a := &app{logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	storage, closeStorage, err := buildStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if closeStorage != nil {
		a.closers = append(a.closers, closeStorage)
	}

	embedder, err := buildEmbedder(logger)
	if err != nil {
		a.close()
		return nil, err
	}
	chat, err := buildChat()
	if err != nil {
		a.close()
		return nil, err
	}

	a.eng = engine.New(storage, embedder, chat, logger, engine.DefaultConfig())

	if path := config.PredicatesFile(); path != "" {
		if err := a.eng.Predicates().LoadFile(path); err != nil {
			a.close()
			return nil, fmt.Errorf("load predicates from %s: %w", path, err)
		}
	}
	if path := config.MarkdownLog(); path != "" {
		sink.NewMarkdown(path, logger).Attach(a.eng)
	}
	if url := config.WebhookURL(); url != "" {
		a.webhook = sink.NewWebhook(url, logger)
		a.webhook.Attach(a.eng)
	}

	if err := a.eng.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.webhook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.webhook.Flush(ctx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newLogger writes errors to stderr and, when SYNAPSE_LOG_FILE is set, the
// configured level to a rotating file.
func newLogger() *zap.Logger {
	var level zapcore.Level
	if err := level.Set(config.LogLevel()); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.ErrorLevel),
	}
	if path := config.LogFile(); path != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
		cores = append(cores, zapcore.NewCore(enc, w, level))
	}
	return zap.New(zapcore.NewTee(cores...))
}

func buildStorage(ctx context.Context) (domain.Storage, func(), error) {
	switch backend := config.StorageBackend(); backend {
	case "json":
		s, err := jsonfile.New(config.DataDir())
		return s, nil, err

	case "sqlite":
		if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := sqlitestore.New(filepath.Join(config.DataDir(), "synapse.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		url := config.DatabaseURL()
		if url == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		s, err := postgres.New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (valid options: json, sqlite, postgres)", backend)
	}
}

// buildEmbedder falls back to keyword-only retrieval when no API key is
// available and the provider was not set explicitly.
func buildEmbedder(logger *zap.Logger) (domain.EmbeddingClient, error) {
	provider := config.EmbeddingProvider()
	key := config.EmbeddingAPIKey()
	if provider == embedding.ProviderOpenAI && key == "" && os.Getenv("SYNAPSE_EMBEDDING_PROVIDER") == "" {
		logger.Warn("OPENAI_API_KEY not set, using keyword retrieval only")
		return nil, nil
	}
	return embedding.NewClient(provider, key, config.EmbeddingModel())
}

// buildChat returns nil when no chat provider is configured; LLM-backed
// features then degrade to their structural fallbacks.
func buildChat() (domain.ChatClient, error) {
	provider := config.ChatProvider()
	if provider == "" {
		return nil, nil
	}
	return llm.NewClient(provider, config.ChatAPIKey(), config.ChatModel())
}

// parseTimeArg accepts RFC 3339, a bare date, or a natural-language phrase
// like "yesterday" or "last friday".
func parseTimeArg(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		u := t.UTC()
		return &u, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("unrecognized time %q", s)
	}
	u := r.Time.UTC()
	return &u, nil
}

func init() {
	rootCmd.AddCommand(
		versionCmd,
		storeCmd,
		evolveCmd,
		searchCmd,
		searchAllCmd,
		contextCmd,
		linksCmd,
		traverseCmd,
		pathCmd,
		clustersCmd,
		decayCmd,
		healthCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
