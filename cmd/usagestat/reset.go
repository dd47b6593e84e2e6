package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard all usage statistics",
	Long:  `Replace the stored usage record with an empty one. All history is lost.`,
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		if !confirm(cmd, "Reset all usage statistics? This cannot be undone. [y/N] ") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("failed to reset usage statistics: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Fprintln(cmd.OutOrStdout(), "✅ Usage statistics reset")
	return nil
}

// confirm asks a yes/no question on the command's input. Anything but an
// explicit yes, including EOF, is a no.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)

	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
