// Package cmd wires the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "care-companion",
	Short: "Care Companion AI - healthcare guidance service",
	Long: `Care Companion AI answers health questions with retrieval-augmented
generation: it searches a curated health-care knowledge base, builds a
grounded prompt, and generates advice with an LLM.

Run "care-companion serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
