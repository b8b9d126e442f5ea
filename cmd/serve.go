package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"panplay/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. Every request carries its own account cookie, so one
server can resolve for many accounts; cached results are scoped per account.
Expired cache entries are dropped when read; POST /cache/cleanup sweeps the rest.

Examples:
  panplay serve
  panplay serve --host 127.0.0.1 --port 8080 --limit-rate 10/s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			config.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			config.Port = servePort
		}
		if err := config.ValidateConfig(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		rt, err := newRuntime(config)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		srv := server.New(server.Options{
			Pipeline:     rt.pipeline,
			Cache:        rt.cache,
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
		})

		if !config.QuietMode {
			fmt.Printf("panplay listening on http://%s\n", config.Addr())
		}
		return srv.ListenAndServe(ctx, config.Addr())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Listen address (env: PANPLAY_HOST)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 5000, "Listen port (env: PANPLAY_PORT)")
}
