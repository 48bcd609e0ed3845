package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
)

// patternCmd represents the pattern command group
var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Drive the controller's pattern engine",
	Long: `Drive the pattern engine on the controller daemon.

Subcommands:
  activate  - Activate a pattern by catalog index
  stop      - Stop the running pattern and clear every strip
  list      - List loaded and rejected patterns
  status    - Show the engine's runners`,
}

var patternActivateCmd = &cobra.Command{
	Use:   "activate <index>",
	Short: "Activate a pattern by catalog index",
	Long: `Queue a pattern for activation on the next engine tick. A later
request replaces one that has not been applied yet.

Examples:
  lightmesh pattern activate 0
  lightmesh pattern activate 2 --paused`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternActivate(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0], patternPaused)
	},
}

var patternStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pattern",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternStop(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

var patternListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatternList(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

var patternStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), newClient(), command.MethodPatternStatus, nil, cmd.OutOrStdout())
	},
}

var patternPaused bool

func init() {
	patternActivateCmd.Flags().BoolVar(&patternPaused, "paused", false,
		"clear every strip and leave the engine idle")

	patternCmd.AddCommand(patternActivateCmd)
	patternCmd.AddCommand(patternStopCmd)
	patternCmd.AddCommand(patternListCmd)
	patternCmd.AddCommand(patternStatusCmd)
}

func runPatternActivate(ctx context.Context, client ControlClient, out io.Writer, arg string, paused bool) error {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 0 {
		return fmt.Errorf("invalid pattern index %q", arg)
	}
	running := !paused
	if _, err := call(ctx, client, command.MethodPatternActivate, command.PatternActivateParams{Index: &index, Running: &running}); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Pattern %d queued for activation\n", index)
	return nil
}

func runPatternStop(ctx context.Context, client ControlClient, out io.Writer) error {
	if _, err := call(ctx, client, command.MethodPatternStop, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Pattern stop queued")
	return nil
}

func runPatternList(ctx context.Context, client ControlClient, out io.Writer) error {
	result, err := call(ctx, client, command.MethodPatternList, nil)
	if err != nil {
		return err
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid response format")
	}

	patterns, _ := m["patterns"].([]interface{})
	if len(patterns) == 0 {
		fmt.Fprintln(out, "No patterns loaded.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tNAME\tNODES\tPHASES\tDURATION")
		for _, p := range patterns {
			pm, _ := p.(map[string]interface{})
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", pm["index"], pm["name"], pm["nodes"], pm["phases"], pm["duration"])
		}
		w.Flush()
	}

	rejected, _ := m["rejected"].([]interface{})
	for _, r := range rejected {
		rm, _ := r.(map[string]interface{})
		fmt.Fprintf(out, "rejected: %v: %v\n", rm["name"], rm["error"])
	}
	return nil
}
