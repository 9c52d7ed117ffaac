package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"watchtrackd/internal/bus"
	"watchtrackd/internal/config"
	"watchtrackd/internal/detector"
	"watchtrackd/internal/logging"
	"watchtrackd/internal/server"
	"watchtrackd/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local watch-tracking agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log := logging.Log

		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		log.WithField("database", cfg.DatabasePath).Debug("store opened")

		dispatcher := bus.NewDispatcher(st, log)
		dispatcher.Start()
		defer dispatcher.Stop()

		client := bus.NewClient(dispatcher, cfg.RequestTimeout, log)
		det := detector.New(detector.Config{ThresholdPercent: cfg.ThresholdPercent}, client, log)

		tunables := server.Tunables{
			ThresholdPercent: cfg.ThresholdPercent,
			SettleDelayMs:    cfg.SettleDelay.Milliseconds(),
			PollIntervalMs:   cfg.PollInterval.Milliseconds(),
		}
		srv := server.NewServer(det, client, cfg.ListenAddress, tunables, log)
		return srv.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "127.0.0.1:8123", "HTTP listen address")
	serveCmd.Flags().Float64("threshold", 70, "Percent of a video's duration that counts as watched")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("threshold_percent", serveCmd.Flags().Lookup("threshold"))
}
