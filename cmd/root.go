package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"watchtrackd/internal/config"
	"watchtrackd/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "watchtrackd",
	Short: "Local-only agent that tracks which videos you've watched, how many times, and when.",
	Long: `watchtrackd receives playback signals from a browser-side companion on
localhost, decides when a video counts as watched (70% threshold or played to
the end, at most once per page visit), and keeps per-video watch counts and
timestamps in a local SQLite database. Nothing ever leaves your machine.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.watchtrackd.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default is the platform app-data dir)")
	viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
	viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("db"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logging.SetLevel(viper.GetString("loglevel"))
}
