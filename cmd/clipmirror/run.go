package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipmirror/internal/clip"
	"go.klb.dev/clipmirror/internal/engine"
	"go.klb.dev/clipmirror/internal/ipc"
	"go.klb.dev/clipmirror/internal/supervisor"
	"go.klb.dev/clipmirror/internal/watcher"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clipboard mirror daemon",
		Long: `Starts the sync daemon in one of two roles:

  --listen :9000            wait for the peer to connect (listener)
  --connect 10.0.0.2:9000   connect to a listening peer (dialer)

Exactly one of the two must be given. --listen :0 picks an ephemeral port
and prints it. The clipboard is cleared at startup unless --no-clear is set.

Changes made while the peer is unreachable are not queued; only the current
clipboard value at the next change after reconnection is synced.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.String("listen", "", "TCP address to accept the peer on (listener role)")
	f.String("connect", "", "peer address to connect to (dialer role)")
	f.Bool("no-clear", false, "don't clear the clipboard on start")
	f.Duration("poll-interval", watcher.DefaultInterval, "clipboard polling interval")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

type runConfig struct {
	listen  string
	connect string
	noClear bool
	poll    time.Duration
}

func (c runConfig) role() string {
	if c.listen != "" {
		return "listener"
	}
	return "dialer"
}

// parseRunConfig validates the daemon configuration. Any error here is fatal
// and reported to the operator; nothing has been started yet.
func parseRunConfig(v *viper.Viper) (runConfig, error) {
	cfg := runConfig{
		listen:  v.GetString("listen"),
		connect: v.GetString("connect"),
		noClear: v.GetBool("no-clear"),
		poll:    v.GetDuration("poll-interval"),
	}

	switch {
	case cfg.listen == "" && cfg.connect == "":
		return cfg, errors.New("one of --listen or --connect is required")
	case cfg.listen != "" && cfg.connect != "":
		return cfg, errors.New("--listen and --connect are mutually exclusive")
	}

	if cfg.connect != "" {
		host, _, err := net.SplitHostPort(cfg.connect)
		if err != nil {
			return cfg, fmt.Errorf("invalid peer address %q: %w", cfg.connect, err)
		}
		if host == "" {
			return cfg, fmt.Errorf("invalid peer address %q: host is required", cfg.connect)
		}
	} else if _, _, err := net.SplitHostPort(cfg.listen); err != nil {
		return cfg, fmt.Errorf("invalid listen address %q: %w", cfg.listen, err)
	}

	return cfg, nil
}

func runDaemon(v *viper.Viper) error {
	setupLogging(v)

	cfg, err := parseRunConfig(v)
	if err != nil {
		return err
	}

	slog.Info("clipmirror starting",
		"version", Version,
		"role", cfg.role(),
		"poll_interval", cfg.poll,
	)

	backend := clip.New()
	defer backend.Close()

	if !cfg.noClear {
		if err := backend.Clear(); err != nil {
			slog.Warn("clipboard clear failed", "err", err)
		}
	}

	w := watcher.New(backend, cfg.poll)
	eng := engine.New(backend, w, w.Events())

	var sup *supervisor.Supervisor
	if cfg.listen != "" {
		ln, err := net.Listen("tcp", cfg.listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.listen, err)
		}
		slog.Info("listening for peer", "addr", ln.Addr())
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			fmt.Fprintf(os.Stderr,
				"Run `clipmirror run --connect <this-ip>:%d` on the other machine\n",
				tcpAddr.Port)
		}
		sup = supervisor.NewListener(ln, eng)
	} else {
		sup = supervisor.NewDialer(cfg.connect, eng)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	if ipcLn, err := ipc.Listen(); err != nil {
		slog.Warn("IPC socket unavailable, status command will not work", "err", err)
	} else {
		slog.Debug("IPC socket listening", "path", ipc.SocketPath())
		defer ipcLn.Close()
		go serveIPC(ipcLn, eng, sup, startedAt)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); eng.Run(ctx) }()
	go func() { defer wg.Done(); w.Run(ctx) }()
	go func() { defer wg.Done(); sup.Run(ctx) }()

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
	return nil
}

// serveIPC answers each status connection with one JSON document.
func serveIPC(ln net.Listener, eng *engine.Engine, sup *supervisor.Supervisor, startedAt time.Time) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			st := eng.Status()
			_ = ipc.WriteStatus(conn, ipc.Status{
				Version:      Version,
				Role:         sup.Role(),
				Link:         sup.State().String(),
				PeerAddr:     sup.PeerAddr(),
				Revision:     st.Revision,
				Origin:       st.Origin,
				ContentBytes: st.ContentBytes,
				StartedAt:    startedAt,
			})
		}()
	}
}
