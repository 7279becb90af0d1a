package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var githubToken string

// exitCode is what main exits with after a successful Execute. The run
// command maps rally outcomes onto it.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "rally",
	Short: "rally pits a reviewer agent against a reviewee agent over a pull request.",
	Long: `Rally drives a bounded negotiation between two coding agents: a reviewer
that critiques a pull request and a reviewee that addresses the critique,
round after round, until the reviewer approves or the round budget runs out.`,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.PersistentFlags().StringVarP(&githubToken, "github-token", "t", "", "GitHub Token")

	if err := viper.BindPFlag("GITHUB_TOKEN", rootCmd.PersistentFlags().Lookup("github-token")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}
