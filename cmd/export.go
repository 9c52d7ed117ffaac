package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"watchtrackd/internal/config"
	"watchtrackd/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every watch record as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := st.ExportJSON()
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			fmt.Println(data)
			return nil
		}
		if err := os.WriteFile(output, []byte(data), 0o644); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
		fmt.Printf("Exported to %s\n", output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Write the export to a file instead of stdout")
}
