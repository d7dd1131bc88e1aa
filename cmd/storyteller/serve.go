package main

import (
	"github.com/spf13/cobra"

	"github.com/datatales/storyteller/config"
	srv "github.com/datatales/storyteller/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the run-history and report HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			addr := serveAddr
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = getenv("STORYTELLER_HTTP_ADDR", ":8080")
			}
			return srv.Run(cfg, addr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./storyteller.yaml)")

	return serve
}
