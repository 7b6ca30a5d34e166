package main

import (
	"context"
	"os"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/logging"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	n, err := newNode(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize services")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.start(ctx)
	log.WithField("role", cfg.App.Role).Info("taskhub started")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"taskhub": func(ctx context.Context) error {
				log.Info("shutting down")
				cancel()
				return n.shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	log.WithField("code", exitCode).Info("taskhub stopped")
	os.Exit(exitCode)
}
