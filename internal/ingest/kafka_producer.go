// Package ingest publishes proof lifecycle events to Kafka for downstream
// notification and audit consumers.
package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

const (
	EventProofCreated   = "proof_created"
	EventProofCertified = "proof_certified"
	EventProofSent      = "proof_sent"
	EventProofError     = "proof_error"
)

// ProofEvent is the wire shape of a lifecycle event, keyed by proof id so
// per-proof ordering is preserved within a partition.
type ProofEvent struct {
	Type        string             `json:"type"`
	ProofID     int64              `json:"proof_id"`
	AgreementID int64              `json:"agreement_id"`
	Role        models.Role        `json:"role,omitempty"`
	Status      models.ProofStatus `json:"status,omitempty"`
	At          time.Time          `json:"at"`
}

type ProofEventProducer struct {
	writer *kafka.Writer
}

func NewProofEventProducer(brokers []string, topic string) *ProofEventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &ProofEventProducer{writer: w}
}

func (k *ProofEventProducer) Publish(ev ProofEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(strconv.FormatInt(ev.ProofID, 10)), Value: b})
}

func (k *ProofEventProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
