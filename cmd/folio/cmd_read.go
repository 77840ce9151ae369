package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/folio/internal/tui"
)

func init() {
	rootCmd.AddCommand(readCmd)
}

var readCmd = &cobra.Command{
	Use:   "read <pdf>",
	Short: "Open a PDF in the terminal reader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := setupLogging(cfg, nil)
		defer logger.Sync()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		doc, info, err := openDocument(args[0], cfg.Reader.Scale)
		if err != nil {
			return err
		}
		defer doc.Close()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		logger.Info("reader opened",
			zap.String("document_id", string(info.ID)),
			zap.String("path", info.Path),
			zap.Int("pages", info.PageCount),
		)

		model := tui.New(tui.Config{
			Gateway:  a.gw,
			Document: info,
			Source:   doc,
			Logger:   logger.Named("tui"),
			Context:  ctx,
		})
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run reader: %w", err)
		}
		return nil
	},
}
