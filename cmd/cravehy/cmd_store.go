package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog as JSON",
	Long: `Writes every product, with nutrients and tags, as a JSON array.
Without --out the JSON goes to stdout.`,
	RunE: runExport,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog counts and the latest scrape run",
	RunE:  runStatus,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	data, err := st.ExportProducts()
	if err != nil {
		return err
	}

	if exportOut == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(exportOut, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Printf("Catalog exported to %s\n", exportOut)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GetStats()
	if err != nil {
		return err
	}
	run, err := st.LatestRun()
	if err != nil {
		return err
	}

	fmt.Println(renderStatus(stats, run))
	return nil
}
