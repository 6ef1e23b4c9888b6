// Command mimdb-inspect deserializes a .mimdb data file and prints its
// layout and metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arloliu/mimdb/blob"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mimdb-inspect <file.mimdb>",
		Short:        "Inspect a MIMDB data file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return inspect(args[0])
		},
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func inspect(path string) error {
	header, err := blob.ReadFileHeader(path)
	if err != nil {
		return err
	}

	fmt.Printf("File: %s\n", path)
	fmt.Printf("Format version: %d\n", header.Version)
	fmt.Printf("Rows: %d\n", header.RowCount)
	fmt.Printf("Columns: %d\n", header.ColumnCount)

	for i := range header.Columns {
		col := &header.Columns[i]
		ratio := 0.0
		if col.TotalUncompressedSize > 0 {
			ratio = float64(col.TotalCompressedSize) / float64(col.TotalUncompressedSize)
		}
		fmt.Printf("\nColumn %q (%s)\n", col.Name, col.Type)
		fmt.Printf("  compressed:   %d bytes\n", col.TotalCompressedSize)
		fmt.Printf("  uncompressed: %d bytes\n", col.TotalUncompressedSize)
		fmt.Printf("  ratio:        %.3f\n", ratio)
		fmt.Printf("  batches:      %d (batch size %d)\n", len(col.Batches), col.BatchSize)
	}

	tbl, err := blob.ReadFile(path)
	if err != nil {
		return err
	}

	fmt.Println()
	tbl.WriteMetrics(os.Stdout)

	return nil
}
