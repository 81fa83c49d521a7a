package main

import (
	"fmt"
	"os"

	"plantops/log"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "plantops",
	Short: "plantops - safety-gated plant enclosure agent",
	Long: `plantops reads the enclosure sensors through the hardware bridge, asks a
reasoning service what to do, checks every proposed action against hard
safety limits and drives the actuators.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	logger := log.GetInstance()
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
