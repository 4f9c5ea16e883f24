package main

import (
	"os"

	"github.com/spf13/cobra"

	"buildcell/internal/app"
	"buildcell/internal/errors"
)

// version is set at build time via ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "buildcell",
	Short:   "Buildcell - reproducible chroot build environments",
	Version: version,
	Long: `Buildcell manages self-contained Linux build environments backed by
loopback-mounted disk images. It provisions a 32- or 64-bit Ubuntu container
from a cloud image, binds your source tree into it, and runs build commands
inside with your own user identity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	// Bare invocations default to the 64-bit environment, so "buildcell
	// shutdown" and "buildcell make -j8" work without a selector.
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run("64", args)
	},
}

// archCommand builds the subcommand for one architecture. Everything after
// the architecture selector is passed through verbatim, flags included, so
// commands like "64 make -j8" reach the container untouched.
func archCommand(arch string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   arch + " [shutdown|container|command...]",
		Short: "Run in the " + arch + "-bit build environment",
		Long: `With no arguments, ensures the ` + arch + `-bit container exists and is ready.
"shutdown" unmounts everything, "container" rebuilds the image from scratch,
and anything else runs as a command inside the container.`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(arch, args)
		},
	}
	return cmd
}

func init() {
	// Flags in a pass-through command belong to that command, not to us.
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(archCommand("32"))
	rootCmd.AddCommand(archCommand("64"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		errors.HandleError(err)
		os.Exit(errors.ExitCode(err))
	}
}
