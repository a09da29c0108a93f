package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaPublisher_Publish(t *testing.T) {
	fp := &fakeProducer{}
	p := newKafkaPublisher(fp, "weather.test")
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	rec := models.WeatherRecord{
		ID:             uuid.New(),
		NormalizedCity: "paris",
		DisplayCity:    "Paris",
		TemperatureC:   18.5,
		Condition:      "Clear",
		ObservedAt:     at,
	}
	if err := p.Publish(context.Background(), rec); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fp.records) != 1 {
		t.Fatalf("produced %d records, want 1", len(fp.records))
	}
	got := fp.records[0]
	if got.Topic != "weather.test" {
		t.Errorf("Topic = %q, want weather.test", got.Topic)
	}
	if string(got.Key) != "paris" {
		t.Errorf("Key = %q, want paris", got.Key)
	}

	var ev RecordedEvent
	if err := json.Unmarshal(got.Value, &ev); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if ev.Type != RecordedEventType {
		t.Errorf("Type = %q, want %q", ev.Type, RecordedEventType)
	}
	if ev.Record.ID != rec.ID || ev.Record.DisplayCity != "Paris" {
		t.Errorf("Record = %+v, want %+v", ev.Record, rec)
	}
	if !ev.RecordedAt.Equal(at) {
		t.Errorf("RecordedAt = %v, want %v", ev.RecordedAt, at)
	}
}

func TestKafkaPublisher_Publish_BrokerError(t *testing.T) {
	brokerErr := errors.New("NOT_LEADER_FOR_PARTITION")
	p := newKafkaPublisher(&fakeProducer{err: brokerErr}, "weather.test")

	err := p.Publish(context.Background(), models.WeatherRecord{NormalizedCity: "oslo"})
	if !errors.Is(err, brokerErr) {
		t.Fatalf("Publish() error = %v, want wrapped broker error", err)
	}
}

func TestKafkaPublisher_Close(t *testing.T) {
	fp := &fakeProducer{}
	newKafkaPublisher(fp, "t").Close()
	if !fp.closed {
		t.Error("Close() did not close the client")
	}
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(" , ", ""); err == nil {
		t.Error("NewKafkaPublisher() error = nil, want error for empty broker list")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), models.WeatherRecord{}); err != nil {
		t.Errorf("NopPublisher.Publish() error = %v", err)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers("a:9092, b:9092,,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("splitBrokers() = %v", got)
	}
}
