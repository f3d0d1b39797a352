// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mochi-mqtt/stomp"
	"github.com/mochi-mqtt/stomp/config"
	"github.com/mochi-mqtt/stomp/listeners"
)

const defaultTCPAddress = ":7777"

// flags holds the command line values shared by the root and serve commands.
type flags struct {
	tcp       string
	ws        string
	info      string
	mode      string
	config    string
	logFormat string
	logLevel  string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	f := new(flags)

	root := &cobra.Command{
		Use:   "stompd [port] [tpc|reactor]",
		Short: "A STOMP 1.2 pub/sub broker",
		Long: `stompd is a STOMP 1.2 broker supporting CONNECT, SEND, SUBSCRIBE,
UNSUBSCRIBE and DISCONNECT over TCP and WebSocket.`,
		Example: `  # Listen on port 7777 with a goroutine per connection
  stompd 7777 tpc

  # Process frames on a fixed worker pool
  stompd serve --tcp :7777 --ws :7778 --info :8080 --mode reactor

  # Load listeners, users and hooks from a file
  stompd serve --config stompd.yaml`,
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			f.tcp = ":" + args[0]
			if len(args) > 1 {
				f.mode = args[1]
			}

			return serve(cmd.Context(), f, out)
		},
	}

	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "text", "log output format, text or json")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "minimum log level, debug, info, warn or error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f, out)
		},
	}

	serveCmd.Flags().StringVar(&f.tcp, "tcp", "", "network address for the tcp listener (default "+defaultTCPAddress+" if no listener is configured)")
	serveCmd.Flags().StringVar(&f.ws, "ws", "", "network address for the websocket listener")
	serveCmd.Flags().StringVar(&f.info, "info", "", "network address for the http stats listener")
	serveCmd.Flags().StringVar(&f.mode, "mode", "", "frame processing mode, tpc or reactor")
	serveCmd.Flags().StringVar(&f.config, "config", "", "path to a yaml or json config file")

	root.AddCommand(serveCmd)
	return root
}

// newLogger returns a logger for the requested format and level.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// buildOptions merges the config file, if any, with the command line flags.
func buildOptions(f *flags, log *slog.Logger) (*stomp.Options, error) {
	opts := new(stomp.Options)
	if f.config != "" {
		b, err := os.ReadFile(f.config)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		o, err := config.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}

		if o != nil {
			opts = o
		}
	}

	opts.Logger = log
	if f.mode != "" {
		opts.Mode = f.mode
	}

	if f.tcp != "" {
		opts.Listeners = append(opts.Listeners, listeners.Config{Type: listeners.TypeTCP, ID: "t1", Address: f.tcp})
	}

	if f.ws != "" {
		opts.Listeners = append(opts.Listeners, listeners.Config{Type: listeners.TypeWS, ID: "ws1", Address: f.ws})
	}

	if f.info != "" {
		opts.Listeners = append(opts.Listeners, listeners.Config{Type: listeners.TypeSysInfo, ID: "stats", Address: f.info})
	}

	if len(opts.Listeners) == 0 {
		opts.Listeners = append(opts.Listeners, listeners.Config{Type: listeners.TypeTCP, ID: "t1", Address: defaultTCPAddress})
	}

	return opts, nil
}

// serve runs the broker until the context ends or the process is signalled, then
// writes the user report.
func serve(ctx context.Context, f *flags, out io.Writer) error {
	log, err := newLogger(out, f.logFormat, f.logLevel)
	if err != nil {
		return err
	}

	opts, err := buildOptions(f, log)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := stomp.New(opts)
	if err := server.Serve(); err != nil {
		_ = server.Close()
		return err
	}

	<-ctx.Done()
	log.Warn("caught signal, stopping...")
	_ = server.Close()

	fmt.Fprint(out, server.Report())
	log.Info("stompd finished")
	return nil
}
