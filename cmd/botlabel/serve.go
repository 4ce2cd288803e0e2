package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/botlabel/internal/label"
	"github.com/hurttlocker/botlabel/internal/mcp"
	"github.com/hurttlocker/botlabel/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP review API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := server.New(st, label.NewPropagator(st, a.logger), a.logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(a.cfg.Listen.Value)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&a.listen, "listen", "", "listen address (default 127.0.0.1:8642)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the labeling tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			s := mcp.NewServer(mcp.ServerConfig{
				Store:   st,
				Labeler: label.NewPropagator(st, a.logger),
				Version: version,
				Logger:  a.logger,
			})
			a.logger.Info("mcp server listening on stdio", zap.String("db", st.Path()))
			return mcpserver.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
		},
	}
}
