package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/amper/adapters/events"
	"github.com/layer-3/amper/adapters/tokenizer"
	httptransport "github.com/layer-3/amper/transport/http"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local bridge",
		Long: `Run the local bridge that host contexts (browser extension pages,
scripts, other processes) call to parse challenges, authenticate and
manage cached tokens. Every bridge route requires a token issued with
"amper bridge-token".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(ctx, a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	key, err := tokenizer.LoadOrCreateKey(a.cfg.BridgeKeyPath)
	if err != nil {
		return err
	}
	engine, err := a.engine()
	if err != nil {
		return err
	}
	if a.cfg.LNDURL == "" {
		a.logger.Warn("No payment backend configured, only cached tokens will be served")
	}

	if a.subscriber != nil {
		if err := logEvents(ctx, a); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.SetupRouter(engine.Orchestrator(), tokenizer.NewJWTTokenizer(key), engine.Granularity(), a.logger)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Bridge listening", "addr", a.cfg.ListenAddr, "storage", a.cfg.Storage, "events", a.cfg.Events)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down bridge")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logEvents logs events published on the in-memory bus.
func logEvents(ctx context.Context, a *app) error {
	topics := []string{
		events.TopicTokenMinted,
		events.TopicTokenInvalidated,
		events.TopicPaymentSettled,
		events.TopicPaymentFailed,
	}
	for _, suffix := range topics {
		topic := a.cfg.EventsTopicPrefix + "." + suffix
		messages, err := a.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		go func(topic string, messages <-chan *message.Message) {
			for msg := range messages {
				a.logger.Debug("Event", "topic", topic, "id", msg.UUID, "payload", string(msg.Payload))
				msg.Ack()
			}
		}(topic, messages)
	}
	return nil
}
