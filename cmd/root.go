package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cctv-clocking",
	Short: "Face recognition attendance tracking from a CCTV stream",
	Long: `CCTV Clocking watches an MJPEG camera stream, recognizes employee
faces against a directory of reference photos and records clock-in and
clock-out events, with spoken greetings and a web dashboard.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yml", "Path to the YAML configuration file")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// newLogger builds the process-wide structured logger.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("NEWAY_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
