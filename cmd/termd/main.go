// Command termd is the Automation Broker: a TCP server that authenticates
// clients and mediates session/pane creation, channel pub/sub, and PTY
// input injection through the line protocol documented in
// internal/wireproto.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/termbroker/core/internal/broker"
	"github.com/termbroker/core/internal/config"
	"github.com/termbroker/core/internal/debugweb"
	"github.com/termbroker/core/internal/termlog"
	"github.com/termbroker/core/internal/tokenstore"
)

var log = termlog.New("termd")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "termd",
		Short:         "termbroker automation broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBroker,
	}
	config.RegisterBrokerFlags(cmd.Flags())
	return cmd
}

func runBroker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadBroker(cmd.Flags())
	if err != nil {
		return fmt.Errorf("termd: load config: %w", err)
	}

	tok, err := tokenstore.Load(cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("termd: load token: %w", err)
	}
	defer tok.Close()
	if err := tok.WatchRotation(func(string) {
		log.Infof("token reloaded from %s", tok.Path())
	}); err != nil {
		log.Warnf("token rotation watch disabled: %v", err)
	}
	if tok.Path() != "" {
		log.Infof("token file %s", tok.Path())
	} else {
		log.Infof("token sourced from %s", tokenstore.EnvVar)
	}

	b := broker.New(broker.Config{
		Addr:               cfg.Addr,
		Token:              tok,
		QueueCapacity:      cfg.QueueCapacity,
		SubscriberCapacity: cfg.SubscriberCapacity,
	})
	if err := b.Start(); err != nil {
		return fmt.Errorf("termd: start broker: %w", err)
	}
	log.Infof("broker listening on %s", b.Addr())

	var debugSrv *http.Server
	if cfg.DebugWebAddr != "" {
		if !debugweb.LoopbackOnly(cfg.DebugWebAddr) {
			return fmt.Errorf("termd: debug-web-addr %s must be loopback-only", cfg.DebugWebAddr)
		}
		handler := debugweb.New(debugweb.Deps{
			Channels: b.Channels(),
			Sessions: b.Sessions(),
			Metrics:  b.Metrics(),
		})
		debugSrv = &http.Server{Addr: cfg.DebugWebAddr, Handler: handler}
		go func() {
			log.Infof("debug web surface listening on %s", cfg.DebugWebAddr)
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("debug web surface stopped: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	log.Infof("shutting down: %v", ctx.Err())

	if debugSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("debug web surface shutdown: %v", err)
		}
	}

	if err := b.Stop(); err != nil {
		return fmt.Errorf("termd: stop broker: %w", err)
	}
	return nil
}
