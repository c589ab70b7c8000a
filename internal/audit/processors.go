package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

type DBProcessor struct {
	db *sql.DB
}

func NewDBProcessor(db *sql.DB) *DBProcessor {
	return &DBProcessor{db: db}
}

func (p *DBProcessor) Process(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs (timestamp, order_id, session_id, event, old_state, new_state, message) VALUES `)

	params := make([]any, 0, len(batch)*7)
	paramIndex := 1
	for i, rec := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			paramIndex, paramIndex+1, paramIndex+2, paramIndex+3, paramIndex+4, paramIndex+5, paramIndex+6))
		paramIndex += 7
		params = append(params, rec.Timestamp, rec.OrderID, rec.SessionID, rec.Event, rec.OldState, rec.NewState, rec.Message)
	}
	if _, err := p.db.ExecContext(ctx, sb.String(), params...); err != nil {
		return fmt.Errorf("DBProcessor error: %w", err)
	}
	return nil
}

type Publisher interface {
	Publish(topic, key string, message []byte) error
}

// KafkaProcessor publishes each record keyed by order id so one order's events stay ordered.
type KafkaProcessor struct {
	producer Publisher
	topic    string
}

func NewKafkaProcessor(producer Publisher, topic string) *KafkaProcessor {
	return &KafkaProcessor{producer: producer, topic: topic}
}

func (p *KafkaProcessor) Process(_ context.Context, batch []Record) error {
	for _, rec := range batch {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("KafkaProcessor encode: %w", err)
		}
		if err := p.producer.Publish(p.topic, rec.OrderID, payload); err != nil {
			return fmt.Errorf("KafkaProcessor publish: %w", err)
		}
	}
	return nil
}

type LogProcessor struct {
	log    logrus.FieldLogger
	Filter string
}

func NewLogProcessor(log logrus.FieldLogger, filter string) *LogProcessor {
	return &LogProcessor{log: log, Filter: filter}
}

func (p *LogProcessor) Process(_ context.Context, batch []Record) error {
	for _, rec := range batch {
		if p.Filter != "" && !strings.Contains(strings.ToLower(rec.Event), strings.ToLower(p.Filter)) {
			continue
		}
		p.log.WithFields(logrus.Fields{
			"order_id":   rec.OrderID,
			"session_id": rec.SessionID,
			"event":      rec.Event,
			"old_state":  rec.OldState,
			"new_state":  rec.NewState,
		}).Info(rec.Message)
	}
	return nil
}
