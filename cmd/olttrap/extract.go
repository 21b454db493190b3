package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/geekxflood/olttrap/trapextract"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract one trap document from a file or stdin",
	Long: `Read a single trap document and print the extracted alarm as JSON.

Examples:
  olttrap extract trap.txt
  cat trap.txt | olttrap extract
  olttrap extract --record -o yaml trap.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().Bool("record", false, "print the record under its extraction field names")
	extractCmd.Flags().StringP("output", "o", "json", "result format: json or yaml")
}

func runExtract(cmd *cobra.Command, args []string) error {
	record, _ := cmd.Flags().GetBool("record")
	format, _ := cmd.Flags().GetString("output")

	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(filepath.Clean(args[0]))
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read trap document: %w", err)
	}

	out := cmd.OutOrStdout()
	if !record {
		return printMessage(out, string(data), format)
	}

	rec, ok := trapextract.Extract(string(data))
	if !ok {
		_, err := fmt.Fprintln(out, noInformation)
		return err
	}
	return printValue(out, rec, format)
}
