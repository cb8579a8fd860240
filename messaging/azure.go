package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/checkout/config"
	"example.com/backstage/services/checkout/domain"
)

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// AzureClient wraps the Azure Service Bus client for the command and
// event queues
type AzureClient struct {
	client       *azservicebus.Client
	commandQueue string
	eventQueue   string
	mu           sync.Mutex
	senders      map[string]*azservicebus.Sender
}

// NewAzureClient creates a new Azure Service Bus client
func NewAzureClient(cfg config.AzureConfig) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	commandQueue := cfg.CommandQueueName
	if commandQueue == "" {
		commandQueue = CommandQueue
	}
	eventQueue := cfg.EventQueueName
	if eventQueue == "" {
		eventQueue = EventQueue
	}

	return &AzureClient{
		client:       client,
		commandQueue: commandQueue,
		eventQueue:   eventQueue,
		senders:      map[string]*azservicebus.Sender{},
	}, nil
}

// CommandQueueName returns the configured command queue name
func (a *AzureClient) CommandQueueName() string { return a.commandQueue }

// EventQueueName returns the configured event queue name
func (a *AzureClient) EventQueueName() string { return a.eventQueue }

func (a *AzureClient) sender(queueName string) (*azservicebus.Sender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sender, ok := a.senders[queueName]; ok {
		return sender, nil
	}

	sender, err := a.client.NewSender(queueName, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for queue %s", queueName)
	}
	a.senders[queueName] = sender
	return sender, nil
}

func (a *AzureClient) send(ctx context.Context, queueName string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	sender, err := a.sender(queueName)
	if err != nil {
		return err
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "checkout-service",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return sender.SendMessage(ctx, msg, nil)
}

// Publish sends an event envelope to the event queue
func (a *AzureClient) Publish(ctx context.Context, eventType string, payload interface{}, meta Metadata) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event payload")
	}

	return a.send(ctx, a.eventQueue, EventEnvelope{
		EventType: eventType,
		Metadata:  meta,
		Payload:   data,
	})
}

// Enqueue sends a command envelope to the command queue
func (a *AzureClient) Enqueue(ctx context.Context, commandType string, payload interface{}, meta Metadata) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal command payload")
	}

	return a.send(ctx, a.commandQueue, CommandEnvelope{
		CommandType: commandType,
		Metadata:    meta,
		Payload:     data,
	})
}

// ProcessQueue consumes a queue until the context is cancelled. Messages
// are completed only after successful processing; transient failures are
// abandoned for redelivery, poison messages go to the dead-letter queue.
func (a *AzureClient) ProcessQueue(ctx context.Context, queueName string, processor MessageProcessor) error {
	receiver, err := a.client.NewReceiverForQueue(queueName, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to create receiver for queue %s", queueName)
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("Error closing receiver")
		}
	}()

	log.Info().Str("queue", queueName).Msg("Starting queue consumer")

	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("queue", queueName).Msg("Error receiving messages")
			time.Sleep(2 * time.Second)
			continue
		}

		// One in-flight message at a time preserves per-aggregate ordering
		// within this consumer.
		for _, message := range messages {
			a.handleMessage(ctx, receiver, message, processor)
		}
	}
}

func (a *AzureClient) handleMessage(ctx context.Context, receiver *azservicebus.Receiver, message *azservicebus.ReceivedMessage, processor MessageProcessor) {
	err := processor.ProcessMessage(ctx, message)
	if err == nil {
		if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("messageID", message.MessageID).Msg("(CompleteMessage) failed")
		}
		return
	}

	if errors.Is(err, domain.ErrPoisonMessage) || domain.IsValidationError(err) {
		log.Error().Err(err).Str("messageID", message.MessageID).Msg("Dead-lettering poison message")
		reason := "PoisonMessage"
		description := err.Error()
		dlErr := receiver.DeadLetterMessage(ctx, message, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &description,
		})
		if dlErr != nil {
			log.Error().Err(dlErr).Str("messageID", message.MessageID).Msg("(DeadLetterMessage) failed")
		}
		return
	}

	// Transient failure: return the message to the queue for redelivery
	log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error processing message, abandoning for redelivery")
	if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
		log.Error().Err(err).Str("messageID", message.MessageID).Msg("(AbandonMessage) failed")
	}
}

// Close closes the senders and the underlying client
func (a *AzureClient) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, sender := range a.senders {
		if err := sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if a.client != nil {
		return a.client.Close(context.Background())
	}
	return nil
}
