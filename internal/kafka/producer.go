package kafka

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type SaramaProducer struct {
	producer sarama.SyncProducer
	log      logrus.FieldLogger
}

func NewSaramaProducer(brokers []string, log logrus.FieldLogger) (*SaramaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Timeout = 5 * time.Second
	prod, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewFromSyncProducer(prod, log), nil
}

func NewFromSyncProducer(prod sarama.SyncProducer, log logrus.FieldLogger) *SaramaProducer {
	return &SaramaProducer{producer: prod, log: log}
}

func (p *SaramaProducer) Publish(topic, key string, message []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Error("failed to send message")
		return err
	}
	p.log.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("message stored")
	return nil
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
