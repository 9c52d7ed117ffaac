package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"watchtrackd/internal/config"
	"watchtrackd/internal/store"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all tracked data",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to clear without --yes")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Clear(); err != nil {
			return err
		}
		fmt.Println("All watch records cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().Bool("yes", false, "Confirm deletion of all watch records")
}
