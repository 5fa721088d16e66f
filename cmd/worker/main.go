package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}

	container, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer container.Close()
	logger := container.Logger

	broker, err := container.Broker()
	if err != nil {
		return err
	}
	if err := container.StartSendWorker(); err != nil {
		return err
	}
	logger.Info("worker running, waiting for send jobs", zap.String("queue", cfg.AMQPQueue))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closed <-chan *amqp.Error
	if aq, ok := broker.(*queue.AMQPQueue); ok {
		closed = aq.NotifyClose()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-closed:
		return fmt.Errorf("rabbitmq connection lost: %v", err)
	}
}
