package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/leaselock"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	out []published
	err error
}

func (f *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{key: key, msg: msg})
	return nil
}

type fakeAcker struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func delivery(body string, headers amqp091.Table) (amqp091.Delivery, *fakeAcker) {
	a := &fakeAcker{}
	return amqp091.Delivery{Acknowledger: a, DeliveryTag: 1, Body: []byte(body), Headers: headers}, a
}

func TestHandleProcessingErrorRetries(t *testing.T) {
	cases := []struct {
		name        string
		headers     amqp091.Table
		cause       error
		wantQueue   string
		wantRetries int32
	}{
		{"first failure", nil, errors.New("boom"), "extract_queue_retry", 1},
		{"int64 header", amqp091.Table{"x-retries": int64(4)}, errors.New("boom"), "extract_queue_retry", 5},
		{"int32 header", amqp091.Table{"x-retries": int32(9)}, errors.New("boom"), "extract_queue_retry", 10},
		{"exhausted", amqp091.Table{"x-retries": int32(MaxRetries)}, errors.New("boom"), "extract_queue_dlq", 0},
		{"malformed", nil, fmt.Errorf("%w: bad json", ErrMalformed), "extract_queue_dlq", 0},
		{"missing document", nil, fmt.Errorf("load: %w", pgxstore.ErrNotFound), "extract_queue_dlq", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &fakePublisher{}
			msg, acker := delivery(`{"document_id":"a"}`, tc.headers)
			HandleProcessingError(pub, msg, ExtractQueue, tc.cause)

			if len(pub.out) != 1 || pub.out[0].key != tc.wantQueue {
				t.Fatalf("published to %+v, want %s", pub.out, tc.wantQueue)
			}
			if tc.wantRetries > 0 && pub.out[0].msg.Headers["x-retries"] != tc.wantRetries {
				t.Fatalf("x-retries = %v, want %d", pub.out[0].msg.Headers["x-retries"], tc.wantRetries)
			}
			if acker.acks != 1 || acker.nacks != 0 {
				t.Fatalf("acks=%d nacks=%d", acker.acks, acker.nacks)
			}
		})
	}
}

func TestHandleProcessingErrorRequeuesWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	msg, acker := delivery(`{}`, nil)
	HandleProcessingError(pub, msg, ExtractQueue, errors.New("boom"))
	if acker.acks != 0 || acker.nacks != 1 || !acker.requeued {
		t.Fatalf("expected a requeue, got %+v", acker)
	}
}

type fakeExtractor struct {
	ids []string
	err error
}

func (f *fakeExtractor) One(ctx context.Context, id string) (int, error) {
	f.ids = append(f.ids, id)
	return 2, f.err
}

type fakeLocks struct {
	keys []string
	busy bool
}

func (f *fakeLocks) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	f.keys = append(f.keys, key)
	if f.busy {
		return leaselock.ErrBusy
	}
	return fn(ctx)
}

func TestExtractHandlerProcess(t *testing.T) {
	ex := &fakeExtractor{}
	locks := &fakeLocks{}
	h := NewExtractHandler(ex, locks)

	body, err := EncodeExtract("doc-7")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := h.Process(context.Background(), body); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(ex.ids) != 1 || ex.ids[0] != "doc-7" || locks.keys[0] != "extract:document:doc-7" {
		t.Fatalf("ids=%v keys=%v", ex.ids, locks.keys)
	}

	for _, bad := range []string{`not json`, `{"document_id":"  "}`} {
		if err := h.Process(context.Background(), []byte(bad)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Process(%q) = %v, want ErrMalformed", bad, err)
		}
	}

	locks.busy = true
	if err := h.Process(context.Background(), body); !errors.Is(err, leaselock.ErrBusy) || Permanent(err) {
		t.Fatalf("busy lease should be retried, got %v", err)
	}
}

func TestHandle(t *testing.T) {
	pub := &fakePublisher{}
	msg, acker := delivery(`{"document_id":"a"}`, nil)
	ok := func(ctx context.Context, body []byte) error { return nil }
	if err := Handle(context.Background(), pub, msg, ExtractQueue, ok); err != nil || acker.acks != 1 {
		t.Fatalf("err=%v acks=%d", err, acker.acks)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg, acker = delivery(`{"document_id":"a"}`, nil)
	failing := func(ctx context.Context, body []byte) error { return ctx.Err() }
	if err := Handle(ctx, pub, msg, ExtractQueue, failing); err == nil {
		t.Fatal("expected the cancellation error")
	}
	if !acker.requeued || len(pub.out) != 0 {
		t.Fatalf("interrupted delivery must be requeued, got %+v and %d publishes", acker, len(pub.out))
	}
}
