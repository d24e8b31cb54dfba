package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"offline-contest/internal/repl"
	transport "offline-contest/internal/transport/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newContestCmd(opts *rootOptions) *cobra.Command {
	var wsAddr string
	cmd := &cobra.Command{
		Use:   "contest <contest-id>",
		Short: "Open the participant shell for a prepared contest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newContestRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, reset, err := rt.newSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			out := cmd.OutOrStdout()
			if reset {
				fmt.Fprintln(out, "a different user was signed in before, their progress on this device was cleared")
			}
			if !rt.pipeline.IsContestPrepared(ctx, args[0]) {
				fmt.Fprintf(out, "contest %s is not prepared, run prepare first\n", args[0])
			}

			if wsAddr != "" {
				shutdown := serveEvents(wsAddr, transport.NewWSHandler(session, rt.monitor, rt.pipeline, rt.log), rt.log)
				defer shutdown()
				fmt.Fprintf(out, "event stream on ws://%s/ws\n", wsAddr)
			}

			history := filepath.Join(filepath.Dir(rt.cfg.Identity.TokenPath), "history")
			return repl.New(session, out, rt.log).Run(ctx, history)
		},
	}
	cmd.Flags().StringVar(&wsAddr, "ws", "", "serve the websocket event stream on this address, e.g. 127.0.0.1:8090")
	return cmd
}

func serveEvents(addr string, handler *transport.WSHandler, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("event stream stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
