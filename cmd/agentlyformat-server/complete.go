package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ailijian/AgentlyFormat/internal/format/completer"
)

var (
	completeStrategy string
	completeInPath   string
	completeTrace    bool
)

// completeCmd is a one-shot CLI over the repair engine: read a (possibly
// truncated) JSON document, print the repaired document and, optionally,
// its repair trace. No session, no event bus — just Complete, for
// piping a single LLM response through the core without standing up the
// server (spec §1's CLI-friendly surface).
var completeCmd = &cobra.Command{
	Use:   "complete [file]",
	Short: "Repair a single truncated JSON document and print the result",
	Long:  "Reads a JSON document from a file argument or stdin, runs the two-phase completion engine once, and prints the repaired document. Pass --trace to also print the repair trace as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runComplete,
}

func init() {
	completeCmd.Flags().StringVar(&completeStrategy, "strategy", "Smart", "repair strategy: Smart, Conservative, or Aggressive")
	completeCmd.Flags().StringVar(&completeInPath, "file", "", "path to read instead of a positional argument or stdin")
	completeCmd.Flags().BoolVar(&completeTrace, "trace", false, "also print the repair trace")
}

func runComplete(cmd *cobra.Command, args []string) error {
	input, err := readCompleteInput(args)
	if err != nil {
		return err
	}

	opts := completer.Options{Strategy: completer.ParseStrategy(completeStrategy)}
	result := completer.Complete(string(input), opts)

	fmt.Println(result.RepairedText)

	if completeTrace {
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Trace); err != nil {
			return fmt.Errorf("encode trace: %w", err)
		}
	}

	if !result.Valid {
		return fmt.Errorf("completion did not converge on valid JSON (confidence=%.2f, strategy=%s)", result.Confidence, result.Strategy)
	}
	return nil
}

func readCompleteInput(args []string) ([]byte, error) {
	switch {
	case completeInPath != "":
		return os.ReadFile(completeInPath)
	case len(args) == 1:
		return os.ReadFile(args[0])
	default:
		return io.ReadAll(os.Stdin)
	}
}
