package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/r3nzsec/irflow-timeline/internal/api"
)

// serveCmd runs the REST API in the foreground until interrupted. The
// desktop shell spawns this and talks to the printed port.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API for the desktop shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cfg, err := setupEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		server := api.NewServer(eng, cfg)
		port, err := server.Start()
		if err != nil {
			return err
		}
		// The shell reads the port from stdout.
		fmt.Printf("listening on %s:%d\n", cfg.RestAPI.Host, port)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
