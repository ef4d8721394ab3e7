package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/indieinfra/mediavault/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and run scheduled cleanup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Println("starting http server...")
			return server.StartServer(a.cfg)
		},
	}
}
