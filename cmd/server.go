package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/checkout/api"
	"example.com/backstage/services/checkout/cache"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/handlers"
	"example.com/backstage/services/checkout/idempotency"
	"example.com/backstage/services/checkout/messaging"
	"example.com/backstage/services/checkout/tracing"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting server")

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := initDatabase()
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return err
	}

	views, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		views = &cache.RedisCache{}
	}
	defer views.Close()

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	azureClient, err := messaging.NewAzureClient(cfg.Azure)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Azure Service Bus")
		return err
	}
	defer azureClient.Close()

	store := eventstore.NewGormStore(db)
	repo := eventstore.NewRepository(store)
	idem := idempotency.NewGormStore(db)

	checkoutHandler := handlers.NewCheckoutHandler(repo, idem, azureClient)

	var nrApp *newrelic.Application
	if tracer != nil {
		nrApp = tracer.Application()
	}
	server := api.NewServer(cfg, db, views, azureClient, checkoutHandler, nrApp)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server exited properly")
	return nil
}
