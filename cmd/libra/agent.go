package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/libra/pkg/metrics"
	"github.com/cuemby/libra/pkg/nodeagent"
	"github.com/cuemby/libra/pkg/reconciler"
	"github.com/cuemby/libra/pkg/security"
)

var podAgentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run NA: stream pod assignments from a control plane and reconcile toward them",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("control-plane")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		insecureMode, _ := cmd.Flags().GetBool("insecure")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		healthInterval, _ := cmd.Flags().GetDuration("health-interval")

		var tlsCfg *tls.Config
		if !insecureMode {
			cfg, err := security.ClientTLSConfig(certDir)
			if err != nil {
				return fmt.Errorf("load client TLS config: %w", err)
			}
			tlsCfg = cfg
		}

		s := buildStack()
		agent, err := nodeagent.New(nodeagent.Config{
			Target:      target,
			TLS:         tlsCfg,
			CacheDBPath: filepath.Join(dataDir, "nodeagent", "assignments.db"),
		})
		if err != nil {
			return err
		}
		defer agent.Close()

		if err := agent.Connect(cmd.Context()); err != nil {
			return err
		}

		r := reconciler.New(reconciler.Config{
			Source: agent,
			Pods:   s.pods,
			Events: s.events,
		})

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		r.Start(ctx)
		defer r.Stop()
		go s.pods.Monitor(ctx, healthInterval)

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				_ = http.ListenAndServe(metricsAddr, mux)
			}()
		}

		go func() {
			if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Println("nodeagent stream ended:", err)
			}
		}()

		fmt.Printf("streaming assignments from %s\n", target)
		<-ctx.Done()
		return nil
	},
}

func init() {
	podCmd.AddCommand(podAgentCmd)
	podAgentCmd.Flags().String("control-plane", "", "gRPC target of the control plane assignment stream")
	podAgentCmd.Flags().String("cert-dir", "", "directory holding node.crt/node.key/ca.crt for mTLS")
	podAgentCmd.Flags().Bool("insecure", false, "dial the control plane without TLS (testing only)")
	podAgentCmd.Flags().String("metrics-addr", "", "address to serve /metrics on, e.g. :9090 (disabled if empty)")
	podAgentCmd.Flags().Duration("health-interval", 10*time.Second, "interval between worker health checks")
	_ = podAgentCmd.MarkFlagRequired("control-plane")
}
