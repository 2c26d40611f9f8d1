package amqp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{64, 30 * time.Second}, // no shift overflow
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := reconnectDelay(tt.attempt); got != tt.expected {
				t.Errorf("reconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"amqp closed", fmt.Errorf("start consuming: %w", amqp091.ErrClosed), true},
		{"channel closed", errors.New("message channel closed"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"other error", errors.New("access refused"), false},
		{"client closed", ErrClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestPublishOnClosedClient(t *testing.T) {
	client := &Client{exchangeName: "x", queueName: "q", closed: true}

	if err := client.PublishPendingSave(context.Background(), "id-1", "u1"); !errors.Is(err, ErrClosed) {
		t.Errorf("PublishPendingSave on closed client = %v, want ErrClosed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.PublishPendingSave(ctx, "id-1", "u1"); err != context.Canceled {
		t.Errorf("PublishPendingSave with cancelled context = %v, want context.Canceled", err)
	}
}

func TestPendingSaveMessage_JSON(t *testing.T) {
	msg := NewPendingSaveMessage("9b2f", "42")
	if msg.Timestamp.IsZero() || time.Since(msg.Timestamp) > time.Second {
		t.Fatalf("timestamp not set to now: %v", msg.Timestamp)
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := PendingSaveMessageFromJSON(body)
	if err != nil {
		t.Fatalf("PendingSaveMessageFromJSON() error = %v", err)
	}
	if parsed.ID != "9b2f" || parsed.UserID != "42" || !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("round trip = %+v, want %+v", parsed, msg)
	}
}

func TestPendingSaveMessage_Invalid(t *testing.T) {
	for _, body := range []string{`{"id": 12}`, `{"user_id": "1"}`, `not json`} {
		if _, err := PendingSaveMessageFromJSON([]byte(body)); err == nil {
			t.Errorf("PendingSaveMessageFromJSON(%s) should fail", body)
		}
	}
}

// TestBrokerRoundTrip needs a running RabbitMQ; set FINTRACK_TEST_AMQP_URL.
func TestBrokerRoundTrip(t *testing.T) {
	url := os.Getenv("FINTRACK_TEST_AMQP_URL")
	if url == "" {
		t.Skip("FINTRACK_TEST_AMQP_URL not set")
	}

	queue := fmt.Sprintf("fintrack_test_%d", time.Now().UnixNano())
	client, err := NewClient(url, "fintrack_test", queue, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.PublishPendingSave(ctx, "p-1", "u1"); err != nil {
		t.Fatalf("PublishPendingSave: %v", err)
	}

	got := make(chan string, 1)
	go client.ConsumePendingSaves(ctx, func(_ context.Context, msg *PendingSaveMessage) error {
		got <- msg.ID
		return nil
	})

	select {
	case id := <-got:
		if id != "p-1" {
			t.Errorf("consumed id = %q, want p-1", id)
		}
	case <-ctx.Done():
		t.Fatal("message not consumed")
	}
}
