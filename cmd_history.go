package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"plantops/log"
	"plantops/models"
	"plantops/services"

	"github.com/spf13/cobra"
)

var (
	historyCount int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent decision records",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the cached actuator state and today's action counts",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func init() {
	historyCmd.Flags().IntVarP(&historyCount, "count", "n", 20, "Number of records to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON lines")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(stateCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	logger := log.GetInstance()
	cfg, _, err := loadConfig(logger)
	if err != nil {
		return err
	}

	decisions, err := services.NewDecisionLog(cfg.DataDir, nil, logger)
	if err != nil {
		return err
	}
	records, err := decisions.Recent(historyCount)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		fmt.Println("No decisions recorded yet")
		return nil
	}
	for _, rec := range records {
		fmt.Println(formatRecord(rec))
	}
	return nil
}

func formatRecord(rec models.DecisionRecord) string {
	status := "executed"
	switch {
	case !rec.Validation.Valid:
		status = "rejected: " + rec.Validation.Reason
	case !rec.Executed:
		status = "failed"
	}

	line := fmt.Sprintf("%s  %-9s  %-12s", rec.Timestamp.Local().Format("2006-01-02 15:04:05"), rec.Source, rec.Decision.Action)
	if d := rec.Decision.Params.DurationSec; d > 0 {
		line += fmt.Sprintf(" %4ds", d)
	} else {
		line += "      "
	}
	line += "  " + status
	if rec.Decision.Reason != "" {
		line += "  (" + rec.Decision.Reason + ")"
	}
	return line
}

func runState(cmd *cobra.Command, args []string) error {
	logger := log.GetInstance()
	cfg, limits, err := loadConfig(logger)
	if err != nil {
		return err
	}

	state := services.NewActuatorStateStore(cfg.DataDir, logger).Load()
	decisions, err := services.NewDecisionLog(cfg.DataDir, nil, logger)
	if err != nil {
		return err
	}
	counts := decisions.DailyActionCounts(time.Now())

	fmt.Printf("Light:          %s\n", state.Light)
	fmt.Printf("Heater:         %s\n", state.Heater)
	fmt.Printf("Pump:           %s\n", state.Pump)
	fmt.Printf("Circulation:    %s\n", state.Circulation)
	fmt.Printf("Water tank:     %s\n", state.WaterTank)
	fmt.Printf("Heater lockout: %s\n", state.HeaterLockout)

	stopActive := services.NewSafetyValidator(limits, logger).EmergencyStopActive()
	fmt.Printf("Emergency stop: %t (%s)\n", stopActive, limits.EmergencyStopFile)

	fmt.Println()
	fmt.Printf("Executed today (UTC), water limit %d:\n", limits.Water.DailyMaxCount)
	if len(counts) == 0 {
		fmt.Println("  none")
		return nil
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-12s %d\n", k, counts[models.ActionKind(k)])
	}
	return nil
}
