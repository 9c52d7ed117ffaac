package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"watchtrackd/internal/config"
	"watchtrackd/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print a summary of every tracked video",
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

		records, err := st.ListRecords()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No watched videos recorded yet.")
			return nil
		}

		fmt.Printf("Tracked videos: %d\n", len(records))
		for _, record := range records {
			label := record.Title
			if label == "" {
				label = record.VideoID
			}
			fmt.Printf("%s — %d times", label, record.WatchCount)
			if record.LastSeenAt != "" {
				fmt.Printf(" (last %s)", record.LastSeenAt)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
