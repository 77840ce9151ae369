package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/folio/internal/analysis"
	"github.com/user/folio/internal/types"
)

var sessionEndQueue bool

func init() {
	sessionEndCmd.Flags().BoolVar(&sessionEndQueue, "queue-analysis", false, "mark the session for the daemon's analysis sweep")
	rootCmd.AddCommand(sessionCmd, conceptCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionEndCmd, sessionAnalyzeCmd, sessionClearCmd, sessionDeleteCmd)
	conceptCmd.AddCommand(conceptListCmd)
}

// withStore opens the configured store for a one-shot command.
func withStore(fn func(ctx context.Context, store types.Store) error) error {
	cfg := loadConfig()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func sessionArg(s string) (types.SessionID, error) {
	id, err := types.ParseSessionID(s)
	if err != nil {
		return "", fmt.Errorf("invalid session ID: %s", s)
	}
	return id, nil
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage chat sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active session and past sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store types.Store) error {
			active, err := store.GetActive(ctx)
			if err != nil {
				return fmt.Errorf("get active session: %w", err)
			}
			past, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if active == nil && len(past) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tDOCS\tANALYSIS\tUPDATED\tTITLE")
			row := func(s *types.Session, status *color.Color, label string) {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					s.ID,
					status.Sprint(label),
					s.SourceDocumentCount,
					s.AnalysisStatus,
					s.UpdatedAt.Format("2006-01-02 15:04:05"),
					s.Title,
				)
			}
			if active != nil {
				row(active, okColor, "active")
			}
			for _, s := range past {
				if s.Ended() {
					row(s, dimColor, "ended")
				} else {
					row(s, warnColor, "inactive")
				}
			}
			return w.Flush()
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session's highlighted passages and transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		return withStore(func(ctx context.Context, store types.Store) error {
			sess, err := store.Get(ctx, id)
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("session not found: %s", id)
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s\n", sess.Title)
			fmt.Printf("Created %s, analysis %s\n\n", sess.CreatedAt.Format("2006-01-02 15:04"), sess.AnalysisStatus)
			for _, c := range sess.Contexts {
				fmt.Printf("> [%s, p.%d] %s\n", c.DocumentTitle, c.PageNumber, c.SelectedText)
			}
			if len(sess.Contexts) > 0 {
				fmt.Println()
			}
			for _, m := range sess.Messages {
				fmt.Printf("%s: %s\n\n", m.Sender, m.Content)
			}
			return nil
		})
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <id>",
	Short: "End a session, making it read-only",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		return withStore(func(ctx context.Context, store types.Store) error {
			if err := store.End(ctx, id); err != nil {
				return fmt.Errorf("end session: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Session %s ended.\n", id)
			if sessionEndQueue {
				if err := store.SetAnalysisStatus(ctx, id, types.AnalysisPending); err != nil {
					return fmt.Errorf("queue analysis: %w", err)
				}
				dimColor.Fprintln(os.Stdout, "Analysis queued for the next sweep.")
			}
			return nil
		})
	},
}

var sessionAnalyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Extract concepts from a session now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		return withStore(func(ctx context.Context, store types.Store) error {
			analyzer := analysis.NewLLMAnalyzer(store, newProvider(cfg), nil)
			res, err := analyzer.Analyze(ctx, id)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("analysis failed: %s", res.Error)
			}
			fmt.Fprintf(os.Stdout, "Extracted %d concepts from session %s.\n", res.ConceptsExtracted, id)
			return nil
		})
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Remove a session's messages and passages, keeping the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		return withStore(func(ctx context.Context, store types.Store) error {
			if err := store.Clear(ctx, id); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Session %s cleared.\n", id)
			return nil
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		return withStore(func(ctx context.Context, store types.Store) error {
			if err := store.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Session %s deleted.\n", id)
			return nil
		})
	},
}

var conceptCmd = &cobra.Command{
	Use:   "concept",
	Short: "Browse extracted concepts",
}

var conceptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every extracted concept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store types.Store) error {
			concepts, err := store.ListConcepts(ctx)
			if err != nil {
				return fmt.Errorf("list concepts: %w", err)
			}
			if len(concepts) == 0 {
				fmt.Println("No concepts yet.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCONFIDENCE\tSESSION\tDESCRIPTION")
			for _, c := range concepts {
				fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n", c.Name, c.Confidence, c.SessionID, c.Description)
			}
			return w.Flush()
		})
	},
}
