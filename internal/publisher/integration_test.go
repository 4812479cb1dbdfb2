//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sanyamjain04/plane/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_EntitySynced() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-synced",
		RoutingKey: "test-routing-key-synced",
		QueueName:  "test-queue-synced",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.Event{
		Kind:          domain.EventEntitySynced,
		WorkspaceID:   "ws-1",
		IntegrationID: "int-1",
		EntityType:    domain.EntityIssue,
		InternalID:    "issue-1",
		ExternalID:    "101",
		Timestamp:     time.Now().UTC(),
	})
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received domain.Event
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.EventEntitySynced, received.Kind)
	s.Equal("int-1", received.IntegrationID)
	s.Equal(domain.EntityIssue, received.EntityType)
	s.Equal("issue-1", received.InternalID)
	s.Equal("101", received.ExternalID)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MappingDeletedCarriesActor() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-deleted",
		RoutingKey: "test-routing-key-deleted",
		QueueName:  "test-queue-deleted",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.Event{
		Kind:          domain.EventMappingDeleted,
		IntegrationID: "int-1",
		EntityType:    domain.EntityIssue,
		InternalID:    "issue-1",
		ExternalID:    "101",
		Actor:         "user-1",
		Timestamp:     time.Now().UTC(),
	})
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received domain.Event
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.EventMappingDeleted, received.Kind)
	s.Equal("user-1", received.Actor)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_ImportFinishedPayload() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-import",
		RoutingKey: "test-routing-key-import",
		QueueName:  "test-queue-import",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.Event{
		Kind:        domain.EventImportFinished,
		WorkspaceID: "ws-1",
		JobID:       "job-1",
		Payload:     json.RawMessage(`{"status":"completed","processed":30,"succeeded":30,"failed":0}`),
		Timestamp:   time.Now().UTC(),
	})
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)

	var received domain.Event
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.EventImportFinished, received.Kind)
	s.Equal("job-1", received.JobID)
	s.JSONEq(`{"status":"completed","processed":30,"succeeded":30,"failed":0}`, string(received.Payload))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.Event{
		Kind:      domain.EventEntitySynced,
		Timestamp: time.Now().UTC(),
	})
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}
