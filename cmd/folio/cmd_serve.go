package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/folio/internal/api"
	"github.com/user/folio/internal/scheduler"
)

const pidFile = "folio.pid"

var servePDFs []string

func init() {
	serveCmd.Flags().StringSliceVar(&servePDFs, "pdf", nil, "PDF to make selectable over the API (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the folio API daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg, os.Stderr)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	srv := api.NewServer(a.gw, a.notifier, logger.Named("api"))
	for _, path := range servePDFs {
		doc, info, err := openDocument(path, cfg.Reader.Scale)
		if err != nil {
			return err
		}
		defer doc.Close()
		srv.RegisterDocument(info, doc)
		logger.Info("document registered",
			zap.String("document_id", string(info.ID)),
			zap.String("title", info.Title),
			zap.Int("pages", info.PageCount),
		)
	}

	if schedule := cfg.Analysis.SweepSchedule; schedule != "" {
		sweeper := scheduler.New(a.store, a.analyzer, scheduler.WithLogger(logger.Named("sweeper")))
		if err := sweeper.Start(ctx, schedule); err != nil {
			return fmt.Errorf("start analysis sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Echo().Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("folio started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("data_dir", cfg.DataDir),
		zap.String("store", cfg.Store.Driver),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.String("pid_file", pidPath),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("api server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					logger.Error("failed to get executable path", zap.Error(err))
					continue
				}
				shutdown(srv, logger)
				a.Close()
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			logger.Info("shutting down", zap.String("signal", sig.String()))
			shutdown(srv, logger)
			return nil
		}
	}
}

func shutdown(srv *api.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Echo().Shutdown(ctx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
}
