package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwire/mcpd/pkg/gateway"
	"github.com/mcpwire/mcpd/pkg/metrics"
	"github.com/mcpwire/mcpd/pkg/transport"
)

var gatewayFlagVals gatewayFlags

type gatewayFlags struct {
	backendsFile   string
	listen         string
	forwardTimeout time.Duration
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Route MCP requests to backend servers",
	Long: `Start the gateway. Requests are classified by resource URI prefix or
tool name against the backend list and forwarded to the matching
backend; responses carry the caller's request ID.

The backend list is a JSON file and can be reloaded without downtime by
sending SIGHUP.`,
	Example: `  # Route per backends.json, listening on the default address
  mcpd gateway --backends backends.json

  # Reload the backend list of a running gateway
  kill -HUP $(pidof mcpd)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd, &gatewayFlagVals)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	f := &gatewayFlagVals
	gatewayCmd.Flags().StringVarP(&f.backendsFile, "backends", "b", "", "Path to the JSON backend list (required)")
	gatewayCmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Framed TCP listen address")
	gatewayCmd.Flags().DurationVar(&f.forwardTimeout, "forward-timeout", 0, "Per-request forward timeout")
}

func runGateway(cmd *cobra.Command, f *gatewayFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Gateway.Enabled = true
	if cmd.Flags().Changed("backends") {
		cfg.Gateway.BackendsFile = f.backendsFile
	}
	if cmd.Flags().Changed("forward-timeout") {
		cfg.Gateway.ForwardTimeoutMs = int(f.forwardTimeout / time.Millisecond)
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := buildLogger(cfg)

	manager, err := gateway.LoadConfig(cfg.Gateway.BackendsFile)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	gw := gateway.New(manager, gateway.Config{
		ForwardTimeout: cfg.Gateway.ForwardTimeout(),
		Metrics:        reg,
		Logger:         log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []transport.Option
	if cfg.Server.MaxPayload > 0 {
		opts = append(opts, transport.WithMaxPayload(cfg.Server.MaxPayload))
	}
	tcpSrv := transport.NewTCPServer(cfg.Server.Listen, opts...)
	if err := gw.Serve(ctx, tcpSrv); err != nil {
		return err
	}
	log.Info("gateway listening", "addr", tcpSrv.Addr(), "backends", len(manager.Backends()))
	fmt.Fprintf(cmd.OutOrStdout(), "gateway started (%d backends)\n", len(manager.Backends()))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := gw.Reload(); err != nil {
				log.Error("reload failed, keeping previous backends", "error", err)
				continue
			}
			log.Info("backends reloaded", "backends", len(manager.Backends()))
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			gw.Shutdown(shutdownCtx)
			shutdownCancel()
			return nil
		}
	}
}
