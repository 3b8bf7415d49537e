package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/libra/pkg/reconciler"
	"github.com/cuemby/libra/pkg/specfile"
	"github.com/cuemby/libra/pkg/types"
)

var podCmd = &cobra.Command{
	Use:   "pod",
	Short: "Manage pods (PTM): a pause container plus ordered workers",
}

func init() {
	podCmd.AddCommand(
		podCreateCmd,
		podStartCmd,
		podRunCmd,
		podStateCmd,
		podDeleteCmd,
		podExecCmd,
		podDaemonCmd,
	)
	podDeleteCmd.Flags().Bool("force", false, "remove bundles and cgroups even if the pod is still running")
	podDaemonCmd.Flags().String("manifest-dir", "/var/lib/libra/manifests", "directory of pod manifests MWR watches")
	podDaemonCmd.Flags().Duration("reconcile-interval", 10*time.Second, "fallback tick interval when no manifest change fires")
	podDaemonCmd.Flags().Duration("health-interval", 10*time.Second, "interval between worker health checks")
}

func loadPodSpec(path string) (*types.PodSpec, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read spec file: %w", err)
	}
	doc, err := specfile.Decode(data)
	if err != nil {
		return nil, "", err
	}
	if doc.Kind != types.KindPod || doc.Pod == nil {
		return nil, "", fmt.Errorf("%s is not a pod spec", path)
	}
	return doc.Pod, specfile.Hash(data), nil
}

var podCreateCmd = &cobra.Command{
	Use:   "create <spec-file>",
	Short: "Create a pod's pause and worker bundles without starting them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, hash, err := loadPodSpec(args[0])
		if err != nil {
			return err
		}
		s := buildStack()
		record, err := s.pods.Create(cmd.Context(), spec, hash)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", spec.Name, record.Phase)
		return nil
	},
}

var podStartCmd = &cobra.Command{
	Use:   "start <pod-id>",
	Short: "Start a previously created pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := buildStack()
		record, err := s.pods.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", args[0], record.Phase)
		return nil
	},
}

var podRunCmd = &cobra.Command{
	Use:   "run <spec-file>",
	Short: "Create and start a pod from a spec file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, hash, err := loadPodSpec(args[0])
		if err != nil {
			return err
		}
		s := buildStack()
		if _, err := s.pods.Create(cmd.Context(), spec, hash); err != nil {
			return err
		}
		record, err := s.pods.Start(cmd.Context(), spec.Name)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", spec.Name, record.Phase)
		return nil
	},
}

var podStateCmd = &cobra.Command{
	Use:   "state <pod-id>",
	Short: "Show a pod's current phase and container states",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := buildStack()
		record, err := s.pods.State(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var podDeleteCmd = &cobra.Command{
	Use:   "delete <pod-id>",
	Short: "Stop and remove a pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		s := buildStack()
		return s.pods.Delete(cmd.Context(), args[0], force)
	},
}

var podExecCmd = &cobra.Command{
	Use:   "exec <pod-id> <container> -- <command> [args...]",
	Short: "Run a command inside one of a pod's worker containers",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		podID, containerName := args[0], args[1]
		command := args[2:]
		s := buildStack()
		result, err := s.pods.Exec(cmd.Context(), podID, containerName, types.ExecRequest{Command: command})
		if err != nil {
			return err
		}
		fmt.Print(result.Stdout)
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("command exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
		}
		return nil
	},
}

// podDaemonCmd runs MWR against a watched manifest directory, with PTM's
// health/restart monitor alongside it, until interrupted.
var podDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the manifest-driven reconcile loop (MWR) in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestDir, _ := cmd.Flags().GetString("manifest-dir")
		interval, _ := cmd.Flags().GetDuration("reconcile-interval")
		healthInterval, _ := cmd.Flags().GetDuration("health-interval")

		s := buildStack()
		if err := os.MkdirAll(filepath.Dir(manifestDir), 0o755); err != nil {
			return fmt.Errorf("prepare manifest dir: %w", err)
		}
		source, err := reconciler.NewDirSource(manifestDir)
		if err != nil {
			return err
		}
		defer source.Close()

		r := reconciler.New(reconciler.Config{
			Source:       source,
			Pods:         s.pods,
			Events:       s.events,
			BaseInterval: interval,
		})

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		r.Start(ctx)
		defer r.Stop()

		go s.pods.Monitor(ctx, healthInterval)

		fmt.Printf("watching %s\n", manifestDir)
		<-ctx.Done()
		return nil
	},
}
