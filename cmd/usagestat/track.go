package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track FEATURE...",
	Short: "Record feature uses",
	Long:  `Record one use of each given feature. The invocation counts as one session.`,
	Example: `  usagestat track btn_archive
  usagestat -c config.yaml track file_open file_open tab_clients`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	for _, id := range args {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("feature ID must not be empty")
		}
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	for _, id := range args {
		if err := backend.Track(cmd.Context(), strings.TrimSpace(id)); err != nil {
			return fmt.Errorf("failed to track %s: %w", id, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tracked %d feature use(s)\n", len(args))
	return nil
}
