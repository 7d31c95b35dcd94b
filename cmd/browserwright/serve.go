package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanm1529/browserwright/internal/config"
	"github.com/bryanm1529/browserwright/internal/relay"
)

// Exit codes for the standalone relay process.
const (
	exitBindFailure = 2
	exitConfigError = 3
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(cmd)
		},
	}

	cmd.Flags().StringVar(&flagHost, "host", "", "listen host (default 127.0.0.1)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "listen port (default 19988)")
	cmd.Flags().StringVar(&flagToken, "token", "", "require this token on /cdp upgrades")
	return cmd
}

func runServe(cmd *cobra.Command) {
	c, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
	}
	if cmd.Flags().Changed("host") {
		c.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		c.Port = flagPort
	}
	if cmd.Flags().Changed("token") {
		c.Token = flagToken
	}
	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger := newLogger(c)

	r := relay.New(relay.Options{
		Token:                c.Token,
		ExtensionIDs:         c.ExtensionIDs,
		PingInterval:         time.Duration(c.PingIntervalMs) * time.Millisecond,
		CommandTimeout:       time.Duration(c.CommandTimeoutMs) * time.Millisecond,
		LongCommandTimeout:   time.Duration(c.LongCommandTimeoutMs) * time.Millisecond,
		MaxClientQueueBytes:  c.MaxClientQueueBytes,
		MaxClientQueueFrames: c.MaxClientQueueFrames,
		Logger:               logger,
	})

	listener, err := net.Listen("tcp", c.Addr())
	if err != nil {
		logger.Error("bind failed", "addr", c.Addr(), "err", err)
		os.Exit(exitBindFailure)
	}

	server := &http.Server{Handler: r.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Close(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newLogger(c config.Config) *slog.Logger {
	if flagQuiet {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      c.SlogLevel(),
		TimeFormat: "15:04:05.000",
	}))
}
