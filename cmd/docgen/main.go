// Package main implements the docgen CLI: run a generation task locally or
// inspect how a resume file is decoded.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "docgen",
	Short:         "Generate cover letters, resumes and follow-up emails",
	Long:          "docgen runs the document generation pipeline against local files, using the text generator and artifact store configured in the environment.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
