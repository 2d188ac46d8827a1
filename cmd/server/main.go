package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tyrowin/corpchat/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	config, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	if !strings.EqualFold(config.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}
	if os.Getenv("JWT_SECRET") == "" {
		log.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart")
	}

	srv, err := server.New(*config, log)
	if err != nil {
		return err
	}
	httpServer := server.CreateServer(config.Port, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		if err := server.ShutdownServer(httpServer, config.ShutdownTimeout, log); err != nil {
			return err
		}

		closeCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return srv.CloseSessions(closeCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped cleanly")
	return nil
}
