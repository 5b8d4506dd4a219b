package main

import (
	"fmt"
	"strings"

	"ai-research-be/internal/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logsLevel  string
	logsModule string
	logsLimit  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the newest entries of the research log",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "only entries of this level, any case (debug, info, warn, error)")
	logsCmd.Flags().StringVar(&logsModule, "module", "", "only entries of this module, any case (research, session, dedup, digest, events, bootstrap)")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "maximum number of entries")
}

func runLogs(cmd *cobra.Command, args []string) error {
	entries, err := logger.ReadEntries(cfg.App.LogFilePath, logsLevel, logsModule, logsLimit)
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("%s ", e.Timestamp)
		levelColor(e.Level).Printf("%-5s", e.Level)
		fmt.Printf(" [%s] %s", e.Module, e.Message)
		if len(e.Details) > 0 {
			fmt.Printf(" %v", e.Details)
		}
		fmt.Println()
	}
	return nil
}

// levelColor maps a stored level ("WARN") or a typed one ("warn") to its color.
func levelColor(level string) *color.Color {
	switch strings.ToUpper(level) {
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR", "DPANIC", "PANIC", "FATAL":
		return color.New(color.FgRed)
	case "DEBUG":
		return color.New(color.FgHiBlack)
	}
	return color.New(color.FgWhite)
}
