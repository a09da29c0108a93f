package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

// RecordedEventType names the event emitted after a new record is stored.
const RecordedEventType = "weather.recorded"

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "weather.recorded"

// Publisher announces newly stored records. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, rec models.WeatherRecord) error
}

// RecordedEvent is the message value.
type RecordedEvent struct {
	Type       string               `json:"type"`
	RecordedAt time.Time            `json:"recordedAt"`
	Record     models.WeatherRecord `json:"record"`
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, models.WeatherRecord) error { return nil }

// producer is the subset of *kgo.Client used here.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes one record per event, keyed by normalized city so that
// all observations for a city land on the same partition.
type KafkaPublisher struct {
	topic  string
	client producer
	now    func() time.Time
}

// NewKafkaPublisher connects lazily to the comma-separated brokers.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	seeds := splitBrokers(brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newKafkaPublisher(client, topic), nil
}

func newKafkaPublisher(client producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, client: client, now: time.Now}
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Publish produces the event synchronously and returns the first broker error.
func (p *KafkaPublisher) Publish(ctx context.Context, rec models.WeatherRecord) error {
	value, err := json.Marshal(RecordedEvent{
		Type:       RecordedEventType,
		RecordedAt: p.now().UTC(),
		Record:     rec,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.NormalizedCity),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(RecordedEventType)},
		},
	}
	if err := p.client.ProduceSync(ctx, msg).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// Close releases broker connections.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
