package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

func sampleAlert(sev gazette.Severity) gazette.Alert {
	return gazette.Alert{
		Severity:  sev,
		Component: "delivery",
		Message:   "record dead-lettered",
		Fields:    map[string]string{"file_name": "a.json"},
		At:        time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Alert(context.Background(), sampleAlert(gazette.SeverityWarning)))
	require.NoError(t, sink.Alert(context.Background(), sampleAlert(gazette.SeverityCritical)))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, "record dead-lettered", entries[1].Message)
	require.Equal(t, "a.json", entries[1].ContextMap()["file_name"])
	require.Equal(t, "delivery", entries[1].ContextMap()["component"])
}

type stubSink struct {
	err   error
	calls int
}

func (s *stubSink) Alert(context.Context, gazette.Alert) error {
	s.calls++
	return s.err
}

func TestMultiContinuesPastFailures(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("down")}
	ok := &stubSink{}
	err := Multi{failing, nil, ok}.Alert(context.Background(), sampleAlert(gazette.SeverityWarning))

	require.ErrorContains(t, err, "down")
	require.Equal(t, 1, failing.calls)
	require.Equal(t, 1, ok.calls)
	require.NoError(t, Multi{}.Alert(context.Background(), sampleAlert(gazette.SeverityWarning)))
}

func TestPubSubSinkPublishes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "alerts")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "alerts-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	sink, err := NewPubSubSink(client, "alerts")
	require.NoError(t, err)
	defer sink.Close()

	want := sampleAlert(gazette.SeverityCritical)
	require.NoError(t, sink.Alert(ctx, want))

	received := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
		})
	}()

	var msg *pubsub.Message
	select {
	case msg = <-received:
	case <-ctx.Done():
		t.Fatal("no message received")
	}
	require.Equal(t, "critical", msg.Attributes["severity"])
	require.Equal(t, "delivery", msg.Attributes["component"])

	var got gazette.Alert
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, want, got)
}

func TestNewPubSubSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPubSubSink(nil, "alerts")
	require.Error(t, err)
}
