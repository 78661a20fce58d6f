package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"debugarena/internal/config"
	"debugarena/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var c server.Config
			if err := config.Load(*configPath, &c); err != nil {
				return err
			}

			s, err := server.Init(c)
			if err != nil {
				return err
			}

			go s.Start()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			sig := <-stop

			slog.Info("cli: received signal, shutting down", "signal", sig.String())
			s.Shutdown()
			return nil
		},
	}
}
