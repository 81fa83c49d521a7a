package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"plantops/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Raise the emergency stop",
	Long: `Create the emergency-stop marker file. While it exists every action except
do_nothing and notify_human is rejected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.GetInstance()
		_, limits, err := loadConfig(logger)
		if err != nil {
			return err
		}
		path := limits.EmergencyStopFile
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		stamp := fmt.Sprintf("emergency stop raised at %s\n", time.Now().UTC().Format(time.RFC3339))
		if err := os.WriteFile(path, []byte(stamp), 0o644); err != nil {
			return fmt.Errorf("failed to create stop marker: %w", err)
		}
		logger.Warn("Emergency stop raised", zap.String("path", path))
		fmt.Printf("Emergency stop active (%s)\n", path)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the emergency stop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.GetInstance()
		_, limits, err := loadConfig(logger)
		if err != nil {
			return err
		}
		path := limits.EmergencyStopFile
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Println("Emergency stop was not active")
				return nil
			}
			return fmt.Errorf("failed to remove stop marker: %w", err)
		}
		logger.Info("Emergency stop cleared", zap.String("path", path))
		fmt.Println("Emergency stop cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
}
