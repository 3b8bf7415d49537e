package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/libra/pkg/bundle"
	"github.com/cuemby/libra/pkg/compose"
	"github.com/cuemby/libra/pkg/container"
	"github.com/cuemby/libra/pkg/events"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/mount"
	"github.com/cuemby/libra/pkg/network"
	"github.com/cuemby/libra/pkg/ociruntime"
	"github.com/cuemby/libra/pkg/pod"
	"github.com/cuemby/libra/pkg/store"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"

	dataDir    string
	pauseImage string
	netName    string
	cniPlugins string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "libra",
	Short:   "libra runs OCI containers and pods on a single node",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "/var/lib/libra", "root directory for bundles, runtime state and records")
	rootCmd.PersistentFlags().StringVar(&pauseImage, "pause-image", "/var/lib/libra/images/pause", "rootfs path of the pause container image")
	rootCmd.PersistentFlags().StringVar(&netName, "network", "libra0", "default bridge network name")
	rootCmd.PersistentFlags().StringVar(&cniPlugins, "cni-bin-dir", "/opt/cni/bin", "directory holding CNI plugin binaries")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(podCmd)
	rootCmd.AddCommand(composeCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: asJSON})
}

// stack bundles every collaborator a subcommand needs; each subcommand
// builds the slice of managers it actually uses from this one instance.
type stack struct {
	runtime    *ociruntime.Adapter
	bundles    *bundle.Composer
	network    *network.Service
	mounts     *mount.Manager
	store      *store.Store
	events     *events.Broker
	pods       *pod.Manager
	containers *container.Manager
	compose    *compose.Manager
}

func buildStack() *stack {
	runtime := ociruntime.New(filepath.Join(dataDir, "runc"))
	bundles := bundle.New(filepath.Join(dataDir, "bundles"))
	netSvc := network.New(network.Config{
		ConfDir:    filepath.Join(dataDir, "cni", "conf.d"),
		PluginDirs: []string{cniPlugins},
	})
	mounts := mount.New(filepath.Join(dataDir, "volumes"))
	st := store.New(filepath.Join(dataDir, "state"))
	broker := events.NewBroker()
	broker.Start()

	pods := pod.New(pod.Config{
		Runtime:     runtime,
		Bundles:     bundles,
		Network:     netSvc,
		Store:       st,
		Events:      broker,
		PauseImage:  pauseImage,
		NetworkName: netName,
	})
	containers := container.New(container.Config{
		Runtime:     runtime,
		Bundles:     bundles,
		Network:     netSvc,
		Store:       st,
		Events:      broker,
		NetworkName: netName,
	})
	proj := compose.New(compose.Config{
		Containers: containers,
		Network:    netSvc,
		Mounts:     mounts,
		Store:      st,
		Events:     broker,
	})

	return &stack{
		runtime:    runtime,
		bundles:    bundles,
		network:    netSvc,
		mounts:     mounts,
		store:      st,
		events:     broker,
		pods:       pods,
		containers: containers,
		compose:    proj,
	}
}
