package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestEventMetaRoundTrip(t *testing.T) {
	meta := EventMeta{EventID: "evt-1", EventType: "booking.appointment.created.v1"}
	msg := kafka.Message{Topic: "ignored", Headers: meta.Headers()}
	got := ExtractEventMeta(msg)
	if got.EventID != "evt-1" || got.EventType != meta.EventType || got.OwnerID != "" {
		t.Fatalf("unexpected meta: %+v", got)
	}
	if len(msg.Headers) != 2 {
		t.Fatalf("blank owner_id should be skipped, got %d headers", len(msg.Headers))
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	got := ExtractEventMeta(kafka.Message{Topic: "t1", Key: []byte("k1")})
	if got.EventID != "k1" || got.EventType != "t1" {
		t.Fatalf("unexpected fallback meta: %+v", got)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}
