package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CryptoAlert/internal/domain/models"
	drepo "CryptoAlert/internal/domain/repository"
	"CryptoAlert/internal/service/finnhub"
	pkgkafka "CryptoAlert/pkg/kafka"
	"CryptoAlert/pkg/util"

	"github.com/shopspring/decimal"
)

// TicksHandler feeds ticks from a Kafka topic into a price book the engine
// then reads from.
type TicksHandler struct {
	topic   string
	sink    finnhub.Sink
	metrics drepo.Metrics
}

func NewTicksHandler(topic string, sink finnhub.Sink, metrics drepo.Metrics) *TicksHandler {
	return &TicksHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *TicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, c, v}
func (h *TicksHandler) Handle(_ context.Context, b []byte) error {
	var m struct {
		Symbol string          `json:"symbol"`
		T      int64           `json:"t"`
		C      decimal.Decimal `json:"c"`
		V      float64         `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	if m.Symbol == "" || !m.C.IsPositive() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("tick %q: missing symbol or price", b)
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	at := time.Now().UTC()
	if m.T > 0 {
		at = time.Unix(m.T, 0).UTC()
	}
	h.metrics.RecordLatency("ingest_e2e", time.Since(at).Seconds())

	h.sink.Update(models.PriceSample{
		Symbol:     util.NormalizeSymbol(m.Symbol),
		Price:      m.C,
		ObservedAt: at,
	})
	return nil
}

var _ pkgkafka.MessageHandler = (*TicksHandler)(nil)
