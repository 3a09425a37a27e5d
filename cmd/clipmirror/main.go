// clipmirror: mirror the system clipboard between two machines.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/clipmirror/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipmirror",
		Short: "Mirror the system clipboard between two machines",
		Long: `clipmirror keeps the clipboards of exactly two machines on a local
network equal to each other's latest value.

Run "clipmirror run --listen :9000" on one machine, then
"clipmirror run --connect <ip>:9000" on the other. Either side may copy;
the other side sees it. Dropped connections are redialed automatically.

Config file search order (first found wins):
  /etc/clipmirror/clipmirror.toml
  $HOME/.config/clipmirror/clipmirror.toml
  path supplied via --config

All flags can be set via CLIPMIRROR_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipmirror %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
