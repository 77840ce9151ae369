package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/folio/internal/analysis"
	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/config"
	ctxengine "github.com/user/folio/internal/context"
	"github.com/user/folio/internal/gateway"
	"github.com/user/folio/internal/logging"
	"github.com/user/folio/internal/notify"
	"github.com/user/folio/internal/pdftext"
	"github.com/user/folio/internal/state"
	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
	"github.com/user/folio/pkg/llm/openai"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "folio",
	Short:         "Read PDFs, discuss highlighted passages, collect concepts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

var (
	errColor  = color.New(color.FgRed)
	okColor   = color.New(color.FgGreen)
	dimColor  = color.New(color.Faint)
	warnColor = color.New(color.FgYellow)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		errColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env files from the working directory and next to the
// config file, then the config itself.
func loadConfig() *config.Config {
	if err := config.LoadEnvFiles(".env", filepath.Join(filepath.Dir(cfgPath), ".env")); err != nil {
		fail("Failed to load environment: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		fail("%v (fix with: folio config set <key> <value>)", err)
	}
	return cfg
}

func fail(format string, args ...any) {
	errColor.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setupLogging builds the process logger. console is nil for the terminal
// reader, which logs to the file only.
func setupLogging(cfg *config.Config, console io.Writer) *zap.Logger {
	file := cfg.LogFile
	if file == "" && console == nil {
		file = filepath.Join(cfg.DataDir, "logs", "folio.log")
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    file,
		Console: console,
	})
	if err != nil {
		fail("Failed to set up logging: %v", err)
	}
	zap.ReplaceGlobals(logger)
	return logger
}

func openStore(cfg *config.Config) (types.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := state.Open(cfg.Store.Driver, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return store, nil
}

// app is the wired core shared by serve and read.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    types.Store
	notifier *notify.Registry
	analyzer *analysis.LLMAnalyzer
	gw       *gateway.Gateway

	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	provider := newProvider(cfg)
	analyzer := analysis.NewLLMAnalyzer(store, provider, logger.Named("analysis"))

	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating tokens", zap.Error(err))
		engine = ctxengine.NewEstimating(cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	}

	notifier := notify.NewRegistry()
	notifier.Register("", func(topic string, n notify.Notification) {
		logger.Debug("notification",
			zap.String("topic", topic),
			zap.String("title", n.Title),
			zap.String("variant", string(n.Variant)),
		)
	})

	gw := gateway.New(store, chat.Options{
		Completer: provider,
		Analyzer:  analyzer,
		Builder:   engine,
		Logger:    logger.Named("chat"),
	}, notifier, logger.Named("gateway"), int64(cfg.MaxConcurrent))
	gw.Start(ctx)

	return &app{cfg: cfg, logger: logger, store: store, notifier: notifier, analyzer: analyzer, gw: gw}, nil
}

func newProvider(cfg *config.Config) *openai.Client {
	return openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
}

func (a *app) Close() {
	a.closeOnce.Do(func() {
		a.gw.Stop()
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	})
}

// openDocument opens a PDF and describes it with a stable id derived from
// its absolute path.
func openDocument(path string, scale float64) (*pdftext.Document, types.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, types.Document{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	doc, err := pdftext.Open(abs, scale)
	if err != nil {
		return nil, types.Document{}, err
	}
	info := types.Document{
		ID:        types.DocumentIDFor(abs),
		Title:     strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		Path:      abs,
		PageCount: doc.NumPages(),
	}
	return doc, info, nil
}
