package main

import (
	"encoding/json"
	"fmt"
	"os"

	"plantops/log"
	"plantops/services"

	"github.com/spf13/cobra"
)

var (
	checkDryRun  bool
	checkMock    bool
	checkNoPhoto bool
	checkJSON    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one sense, decide and act cycle",
	Long: `Read the sensors, ask the reasoning service for a decision, validate every
proposed action against the safety limits and execute the ones that pass.
The offline fallback rules decide when the reasoning service is unreachable.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Log actions instead of driving the hardware")
	checkCmd.Flags().BoolVar(&checkMock, "mock", false, "Use mock sensor data instead of the bridge")
	checkCmd.Flags().BoolVar(&checkNoPhoto, "no-photo", false, "Skip the plant photo")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the check summary as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := log.GetInstance()

	cfg, limits, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if checkDryRun {
		cfg.DryRun = true
	}
	if checkMock {
		cfg.UseMockSensors = true
	}

	a, err := newApp(cmd.Context(), cfg, limits)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer a.Close()

	summary := a.agent.RunCheck(cmd.Context(), services.CheckOptions{
		IncludePhoto: cfg.IncludePhoto && !checkNoPhoto,
	})

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		fmt.Println(services.FormatSummaryText(summary))
	}

	if summary.Error != "" {
		return fmt.Errorf("check failed: %s", summary.Error)
	}
	return nil
}
