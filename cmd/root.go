package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/server/state"
)

// app carries what every subcommand shares once the configuration is loaded.
type app struct {
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mediavault",
		Short: "Media asset lifecycle manager",
		Long: `mediavault tracks uploaded images, the content that embeds them, and
cleans up assets nothing references anymore.

Run "mediavault serve" for the admin API and scheduled cleanup, or use the
other commands for one-off inspection and cleanup runs.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "config.yml", "Path to the configuration file (i.e., /etc/mediavault.yaml)")

	root.AddCommand(
		newServeCmd(a),
		newOrphansCmd(a),
		newPreviewCmd(a),
		newCleanupCmd(a),
		newStatsCmd(a),
		newHistoryCmd(a),
	)

	return root
}

func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(a.configFile) == "" {
		return fmt.Errorf("a configuration file is required")
	}

	log.Println("loading configuration...")
	cfg, err := config.LoadConfig(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a.cfg = cfg
	return nil
}

// withState opens every store for the duration of fn.
func (a *app) withState(fn func(st *state.MediaVaultState) error) error {
	st, err := state.Initialize(a.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(st)
}
