package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroskulture/checkout/events"
	"github.com/astroskulture/checkout/models"
)

func paidOrder() *models.Order {
	return &models.Order{
		Number:        "AK-20261017-0000ABCD",
		Status:        models.OrderProcessing,
		PaymentStatus: models.PaymentPaid,
		PaymentID:     "pay_123",
		Total:         242782,
		UpdatedAt:     time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublishesJSONEnvelope(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e events.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != events.OrderPaid || e.Data.PaymentID != "pay_123" || e.Data.Total != 242782 {
			return errors.New("unexpected event payload: " + string(val))
		}
		return nil
	})

	k := events.NewKafkaWithProducer(producer, "")
	err := k.Publish(context.Background(), events.NewOrderEvent(events.OrderPaid, paidOrder(), ""))
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

func TestKafkaPublishFailureIsReturned(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := events.NewKafkaWithProducer(producer, "orders")
	err := k.Publish(context.Background(), events.NewOrderEvent(events.OrderPaid, paidOrder(), ""))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, k.Close())
}
