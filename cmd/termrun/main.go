// Command termrun is the Headless Runtime: it spawns a local shell under a
// PTY, parses its output into a cell grid, and bridges that grid and the
// pane's input channel to a remote termd broker over the wire protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/termbroker/core/internal/config"
	"github.com/termbroker/core/internal/headless"
	"github.com/termbroker/core/internal/metrics"
	"github.com/termbroker/core/internal/termlog"
	"github.com/termbroker/core/internal/tokenstore"
)

var log = termlog.New("termrun")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var reconnect bool
	var localEcho bool

	cmd := &cobra.Command{
		Use:           "termrun",
		Short:         "termbroker headless terminal runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, reconnect, localEcho)
		},
	}
	config.RegisterRuntimeFlags(cmd.Flags())
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "retry the broker connection with exponential backoff instead of exiting on drop")
	cmd.Flags().BoolVar(&localEcho, "local-echo", false, "also mirror PTY output to the attached terminal, in raw mode (debug aid)")
	return cmd
}

func run(cmd *cobra.Command, reconnect, localEcho bool) error {
	cfg, err := config.LoadRuntime(cmd.Flags())
	if err != nil {
		return fmt.Errorf("termrun: load config: %w", err)
	}

	token := cfg.Token
	if token == "" {
		if env := os.Getenv(tokenstore.EnvVar); env != "" {
			token = env
		}
	}
	if token == "" {
		return fmt.Errorf("termrun: no token supplied (use --token or %s)", tokenstore.EnvVar)
	}

	var echoWriter *os.File
	if localEcho {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			log.Warnf("--local-echo requested but stdout is not a terminal, ignoring")
		} else {
			oldState, err := term.MakeRaw(int(os.Stdout.Fd()))
			if err != nil {
				return fmt.Errorf("termrun: enable raw mode: %w", err)
			}
			defer term.Restore(int(os.Stdout.Fd()), oldState)
			echoWriter = os.Stdout
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rtCfg := headless.Config{
		ServerAddr:  cfg.ServerAddr,
		Token:       token,
		SessionName: cfg.SessionName,
		PaneName:    cfg.PaneName,
		Cols:        cfg.Cols,
		Rows:        cfg.Rows,
		Shell:       cfg.Shell,
		Quantum:     cfg.Quantum(),
		Metrics:     &metrics.Counters{},
	}
	if echoWriter != nil {
		rtCfg.LocalEcho = echoWriter
	}

	if !reconnect {
		return headless.New(rtCfg).Run(ctx)
	}
	return runWithReconnect(ctx, rtCfg)
}

// runWithReconnect repeatedly runs a fresh Runtime, retrying with
// exponential backoff (capped at 30s) whenever Run returns an error and
// the context has not been canceled, matching original_source's
// generalized "the prototype never reconnected" gap noted in SPEC_FULL.md.
func runWithReconnect(ctx context.Context, cfg headless.Config) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := headless.New(cfg).Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		log.Warnf("runtime exited: %v, reconnecting in %s", err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
