package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go.klb.dev/clipmirror/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running daemon",
		Long: `Queries the local clipmirror daemon over its IPC Unix socket and prints
the link state and the current clipboard snapshot metadata.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error { return runStatus(jsonOut) },
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output raw JSON")
	return cmd
}

func runStatus(jsonOut bool) error {
	conn, err := ipc.Dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	st, err := ipc.ReadStatus(conn)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version:\t%s\n", st.Version)
	fmt.Fprintf(tw, "role:\t%s\n", st.Role)
	fmt.Fprintf(tw, "link:\t%s\n", st.Link)
	if st.PeerAddr != "" {
		fmt.Fprintf(tw, "peer:\t%s\n", st.PeerAddr)
	}
	fmt.Fprintf(tw, "revision:\t%d (%s)\n", st.Revision, st.Origin)
	fmt.Fprintf(tw, "clipboard:\t%d bytes\n", st.ContentBytes)
	fmt.Fprintf(tw, "uptime:\t%s\n", time.Since(st.StartedAt).Round(time.Second))
	return tw.Flush()
}
