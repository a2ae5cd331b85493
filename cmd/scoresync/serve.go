package main

import (
	"github.com/spf13/cobra"

	scoresync "github.com/cbegin/scoresync-go"
	"github.com/cbegin/scoresync-go/internal/server"
)

var (
	serveAddr    string
	serveOrigins []string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "address to listen on (defaults to the settings file)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "allowed CORS origin, repeatable (default any)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve practice sessions over HTTP",
	Long: `Runs the JSON practice API. Sessions render headless; the page that
drives them plays its own audio from the derived MIDI asset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		addr := serveAddr
		if addr == "" {
			addr = cfg.Listen
		}
		srv := server.New(func() *scoresync.Session { return newSession() }, log, serveOrigins...)
		return srv.ListenAndServe(ctx, addr)
	},
}
