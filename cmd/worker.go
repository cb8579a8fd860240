package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"example.com/backstage/services/checkout/cache"
	"example.com/backstage/services/checkout/domain"
	"example.com/backstage/services/checkout/eventstore"
	"example.com/backstage/services/checkout/handlers"
	"example.com/backstage/services/checkout/idempotency"
	"example.com/backstage/services/checkout/messaging"
	"example.com/backstage/services/checkout/models"
	"example.com/backstage/services/checkout/projections"
	"example.com/backstage/services/checkout/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to consume commands and events, relay stored events to the bus and sweep timed out checkouts`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

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

	if _, err := tracing.NewTracer(cfg.Tracing); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	elasticClient, err := projections.NewElasticsearchClient(cfg.Elastic)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Elasticsearch")
		return err
	}
	if err := projections.EnsureIndices(elasticClient, cfg.Elastic); err != nil {
		log.Error().Err(err).Msg("Failed to ensure Elasticsearch indices")
		return err
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
	cartHandler := handlers.NewCartHandler(repo, azureClient)
	catalogHandler := handlers.NewCatalogHandler(repo, azureClient)
	inventoryHandler := handlers.NewInventoryHandler(repo, idem, azureClient)
	orderHandler := handlers.NewOrderHandler(repo, idem)

	commandProcessor := handlers.NewCommandProcessor(checkoutHandler, cartHandler, catalogHandler, inventoryHandler, orderHandler)
	eventProcessor := handlers.NewEventProcessor(checkoutHandler)

	checkoutProjector := projections.NewCheckoutProjector(db, elasticClient, views, cfg.Elastic)
	orderProjector := projections.NewOrderProjector(db, elasticClient, views, cfg.Elastic)
	relay := projections.NewRelay(store, azureClient, checkoutProjector, orderProjector, cfg.Saga.RelayBatch, cfg.Saga.RelayInterval)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return azureClient.ProcessQueue(ctx, azureClient.CommandQueueName(), commandProcessor)
	})

	g.Go(func() error {
		return azureClient.ProcessQueue(ctx, azureClient.EventQueueName(), eventProcessor)
	})

	g.Go(func() error {
		return relay.Run(ctx)
	})

	// Sagas that stop hearing replies would sit in a *_REQUESTED status
	// forever. The sweep fails them past the step timeout so their stock
	// gets released and clients see a terminal status.
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Saga.SweepInterval),
			gocron.NewTask(func() {
				if err := sweepTimedOutCheckouts(ctx, db, checkoutHandler); err != nil {
					log.Error().Err(err).Msg("Failed to sweep timed out checkouts")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker exited properly")
	return nil
}

// sweepTimedOutCheckouts fails every checkout stuck in a non-terminal
// status past the step timeout
func sweepTimedOutCheckouts(ctx context.Context, db *gorm.DB, checkoutHandler *handlers.CheckoutHandler) error {
	cutoff := time.Now().Add(-cfg.Saga.StepTimeout)

	var stale []models.CheckoutView
	if err := db.WithContext(ctx).
		Where("status NOT IN ? AND updated_at < ?", []string{domain.SagaCompleted, domain.SagaFailed}, cutoff).
		Limit(100).
		Find(&stale).Error; err != nil {
		return err
	}

	for _, view := range stale {
		if err := checkoutHandler.FailTimedOut(ctx, view.CheckoutID); err != nil {
			log.Error().Err(err).Str("checkoutID", view.CheckoutID).Msg("Failed to time out checkout")
		}
	}

	return nil
}
