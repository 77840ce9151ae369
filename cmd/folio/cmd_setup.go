package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/folio/internal/config"
	"github.com/user/folio/internal/state"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Folio Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "LLM model name", cfg.LLM.Model)
		if n, err := strconv.Atoi(prompt(scanner, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}

		switch driver := prompt(scanner, "Storage driver (file or sqlite)", cfg.Store.Driver); driver {
		case state.DriverFile, state.DriverSQLite:
			cfg.Store.Driver = driver
		default:
			fmt.Printf("Unknown driver %q, using %s.\n", driver, state.DriverFile)
			cfg.Store.Driver = state.DriverFile
		}

		cfg.Server.Addr = prompt(scanner, "API listen address", cfg.Server.Addr)
		if f, err := strconv.ParseFloat(prompt(scanner, "Reader scale (pixels per PDF point)", strconv.FormatFloat(cfg.Reader.Scale, 'g', -1, 64)), 64); err == nil && f > 0 {
			cfg.Reader.Scale = f
		}

		if err := config.Validate(cfg); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		okColor.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt shows label with its default and returns the trimmed answer, or
// the default when the answer is empty or input has ended.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
