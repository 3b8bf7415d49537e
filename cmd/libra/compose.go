package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/libra/pkg/specfile"
	"github.com/cuemby/libra/pkg/types"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Manage multi-service projects (CT)",
}

func init() {
	composeCmd.AddCommand(composeUpCmd, composeDownCmd, composePsCmd)
	composeUpCmd.Flags().String("project", "", "project name (defaults to the spec file's base name)")
	composeDownCmd.Flags().String("project", "", "project name")
	composePsCmd.Flags().String("project", "", "project name")
}

func loadComposeSpec(path string) (*types.ComposeSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	doc, err := specfile.Decode(data)
	if err != nil {
		return nil, err
	}
	if doc.Kind != types.KindCompose || doc.Compose == nil {
		return nil, fmt.Errorf("%s is not a compose spec", path)
	}
	return doc.Compose, nil
}

var composeUpCmd = &cobra.Command{
	Use:   "up <spec-file>",
	Short: "Bring up every service in a compose spec in dependency order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadComposeSpec(args[0])
		if err != nil {
			return err
		}
		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = specProjectName(args[0])
		}
		s := buildStack()
		record, err := s.compose.Up(cmd.Context(), project, spec)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d services up\n", project, len(record.ServiceOrder))
		return nil
	},
}

var composeDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Tear down a project's services in reverse dependency order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			return fmt.Errorf("--project is required")
		}
		s := buildStack()
		return s.compose.Down(cmd.Context(), project)
	},
}

var composePsCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show each service's current phase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			return fmt.Errorf("--project is required")
		}
		s := buildStack()
		phases, err := s.compose.Ps(cmd.Context(), project)
		if err != nil {
			return err
		}
		for name, phase := range phases {
			fmt.Printf("%s\t%s\n", name, phase)
		}
		return nil
	},
}

func specProjectName(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
