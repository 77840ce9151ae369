package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/selection"
)

var (
	selectPage int
	selectFrom string
	selectTo   string
	selectJSON bool
)

func init() {
	selectCmd.Flags().IntVar(&selectPage, "page", 1, "1-based page number")
	selectCmd.Flags().StringVar(&selectFrom, "from", "", "drag start as x,y in container pixels")
	selectCmd.Flags().StringVar(&selectTo, "to", "", "drag end as x,y in container pixels")
	selectCmd.Flags().BoolVar(&selectJSON, "json", false, "print the whole selection as JSON")
	selectCmd.MarkFlagRequired("from")
	selectCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(selectCmd)
}

var selectCmd = &cobra.Command{
	Use:   "select <pdf>",
	Short: "Replay a drag over a page and print the selected text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		from, err := parsePoint(selectFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := parsePoint(selectTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		doc, info, err := openDocument(args[0], cfg.Reader.Scale)
		if err != nil {
			return err
		}
		defer doc.Close()
		if selectPage < 1 || selectPage > info.PageCount {
			return fmt.Errorf("page %d out of range (document has %d pages)", selectPage, info.PageCount)
		}

		engine := selection.NewEngine(doc, nil)
		engine.SetDocument(info.ID)
		engine.SetPage(selectPage)
		engine.PointerDown(from)
		engine.PointerMove(to)
		sel, ok := engine.PointerUp(context.Background(), to)
		if !ok {
			return fmt.Errorf("no text under the selection on page %d", selectPage)
		}

		if selectJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sel)
		}
		fmt.Fprintln(os.Stdout, sel.SelectedText)
		return nil
	},
}

func parsePoint(s string) (geom.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return geom.Point{}, fmt.Errorf("expected x,y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return geom.Point{}, fmt.Errorf("parse x: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return geom.Point{}, fmt.Errorf("parse y: %w", err)
	}
	return geom.Point{X: x, Y: y}, nil
}
