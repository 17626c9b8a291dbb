package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docgen-backend/internal/extract"
	"docgen-backend/internal/profile"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff <file>",
	Short: "Detect a resume file's format and print its text",
	Args:  cobra.ExactArgs(1),
	RunE:  runSniff,
}

var (
	sniffParse bool
)

func init() {
	sniffCmd.Flags().BoolVar(&sniffParse, "parse", false, "Also print the heuristically parsed profile fields")
	rootCmd.AddCommand(sniffCmd)
}

func runSniff(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	res, err := extract.Text(cmd.Context(), data)
	if err != nil {
		return fmt.Errorf("extract %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "format: %s\nencoding: %s\nchars: %d\n\n%s\n", res.Format, res.Encoding, len([]rune(res.Text)), res.Text)
	if sniffParse {
		p := profile.ParseResume(res.Text)
		fmt.Fprintf(out, "\nname: %s\nemail: %s\nphone: %s\nlocation: %s\nskills: %v\n", p.Name, p.Email, p.Phone, p.Location, p.Skills)
	}
	return nil
}
