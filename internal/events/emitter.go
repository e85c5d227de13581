// Package events publishes security events to Kafka. Emission is
// best-effort: an unreachable broker degrades observability, never
// authentication.
package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"hr-auth-service/internal/bucketing"
	"hr-auth-service/internal/client"
	"hr-auth-service/internal/config"
	"hr-auth-service/internal/models"
	"hr-auth-service/internal/util"
)

// Emitter records security events. The nop emitter stands in when
// Kafka is not configured and in tests.
type Emitter interface {
	Emit(ctx context.Context, accountID, eventType, action, detail, ipAddress string)
}

type kafkaEmitter struct {
	producer  *client.KafkaProducer
	bucketing *bucketing.BucketingManager
	topic     string
}

func NewKafkaEmitter(cfg *config.Config, producer *client.KafkaProducer, bm *bucketing.BucketingManager) Emitter {
	return &kafkaEmitter{
		producer:  producer,
		bucketing: bm,
		topic:     cfg.Kafka.SecurityEventsTopic,
	}
}

func (e *kafkaEmitter) Emit(ctx context.Context, accountID, eventType, action, detail, ipAddress string) {
	now := time.Now().UTC()
	event := models.SecurityEvent{
		EventBucket: e.bucketing.EventBucket(accountID, now),
		AccountID:   accountID,
		EventType:   eventType,
		Action:      action,
		Detail:      detail,
		IPAddress:   ipAddress,
		EventTime:   now,
	}

	value, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to encode security event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := e.producer.ProduceMessage(ctx, e.topic, []byte(accountID), value, nil); err != nil {
		util.Warn("Failed to emit security event",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}

	util.Debug("Security event emitted",
		zap.String("event_type", eventType),
		zap.String("action", action))
}

type nopEmitter struct{}

// NewNopEmitter returns an emitter that drops everything.
func NewNopEmitter() Emitter {
	return nopEmitter{}
}

func (nopEmitter) Emit(ctx context.Context, accountID, eventType, action, detail, ipAddress string) {
}
