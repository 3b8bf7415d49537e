package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/libra/pkg/specfile"
	"github.com/cuemby/libra/pkg/types"
)

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage standalone containers (CTM)",
}

func init() {
	containerCmd.AddCommand(
		containerCreateCmd,
		containerStartCmd,
		containerRunCmd,
		containerStateCmd,
		containerListCmd,
		containerDeleteCmd,
		containerExecCmd,
	)
	containerDeleteCmd.Flags().Bool("force", false, "remove bundle and cgroup even if the container is still running")
}

func loadContainerSpec(path string) (*types.ContainerSpec, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read spec file: %w", err)
	}
	doc, err := specfile.Decode(data)
	if err != nil {
		return nil, "", err
	}
	if doc.Kind != types.KindContainer || doc.Container == nil {
		return nil, "", fmt.Errorf("%s is not a container spec", path)
	}
	return doc.Container, specfile.Hash(data), nil
}

var containerCreateCmd = &cobra.Command{
	Use:   "create <spec-file>",
	Short: "Create a container from a spec file without starting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, hash, err := loadContainerSpec(args[0])
		if err != nil {
			return err
		}
		s := buildStack()
		record, err := s.containers.Create(cmd.Context(), spec, hash)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", spec.Name, record.Phase)
		return nil
	},
}

var containerStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a previously created container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := buildStack()
		record, err := s.containers.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", args[0], record.Phase)
		return nil
	},
}

var containerRunCmd = &cobra.Command{
	Use:   "run <spec-file>",
	Short: "Create and start a container from a spec file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, hash, err := loadContainerSpec(args[0])
		if err != nil {
			return err
		}
		s := buildStack()
		if _, err := s.containers.Create(cmd.Context(), spec, hash); err != nil {
			return err
		}
		record, err := s.containers.Start(cmd.Context(), spec.Name)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", spec.Name, record.Phase)
		return nil
	},
}

var containerStateCmd = &cobra.Command{
	Use:   "state <name>",
	Short: "Show a container's current phase and runtime state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := buildStack()
		record, err := s.containers.State(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known containers and their phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := buildStack()
		for name, phase := range s.containers.Phases() {
			fmt.Printf("%s\t%s\n", name, phase)
		}
		return nil
	},
}

var containerDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Stop and remove a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		s := buildStack()
		return s.containers.Delete(cmd.Context(), args[0], force)
	},
}

var containerExecCmd = &cobra.Command{
	Use:   "exec <name> -- <command> [args...]",
	Short: "Run a command inside a running container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		command := args[1:]
		s := buildStack()
		result, err := s.containers.Exec(cmd.Context(), name, types.ExecRequest{Command: command})
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
