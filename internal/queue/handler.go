package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"

	"github.com/rabbitmq/amqp091-go"
)

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed message")

// ExtractMsg asks for the relations of one document.
type ExtractMsg struct {
	DocumentID string `json:"document_id"`
}

type DocumentExtractor interface {
	One(ctx context.Context, documentID string) (int, error)
}

type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// ExtractHandler extracts one document per message under a per-document
// lease, so a document is never extracted by two workers at once.
type ExtractHandler struct {
	extractor DocumentExtractor
	locks     Locker
	leaseTTL  time.Duration
}

func NewExtractHandler(extractor DocumentExtractor, locks Locker) *ExtractHandler {
	return &ExtractHandler{extractor: extractor, locks: locks, leaseTTL: 5 * time.Minute}
}

func (h *ExtractHandler) Process(ctx context.Context, body []byte) error {
	var msg ExtractMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg.DocumentID = strings.TrimSpace(msg.DocumentID)
	if msg.DocumentID == "" {
		return fmt.Errorf("%w: document_id is empty", ErrMalformed)
	}

	return h.locks.WithLease(ctx, leaselock.DocumentKey(msg.DocumentID), leaselock.Options{
		TTL:         h.leaseTTL,
		TokenPrefix: "worker-",
	}, func(ctx context.Context) error {
		n, err := h.extractor.One(ctx, msg.DocumentID)
		if err != nil {
			return err
		}
		logger.Debug("[Queue] document extracted", "document", msg.DocumentID, "relations", n)
		return nil
	})
}

// EncodeExtract builds the body of an extraction message.
func EncodeExtract(documentID string) ([]byte, error) {
	return json.Marshal(ExtractMsg{DocumentID: documentID})
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, pgxstore.ErrNotFound)
}

// Retries reads the x-retries header. The header round-trips through the
// AMQP table encoding, so every integer width is accepted.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// HandleProcessingError moves a failed message to the retry queue with an
// incremented x-retries header, or to the dead-letter queue once MaxRetries
// is reached or the failure is permanent. The original delivery is acked
// after the republish and requeued when the republish fails.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := Retries(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if retries >= MaxRetries || Permanent(cause) {
		target = queueName + "_dlq"
		if cause != nil {
			headers["x-last-error"] = cause.Error()
		}
		logger.Warn("[Queue] sending message to DLQ", "dlq", target, "retries", retries, "err", cause)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	err := ch.Publish("", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Handle runs process on one delivery and settles it. A delivery that was
// interrupted by shutdown is requeued untouched.
func Handle(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, process func(ctx context.Context, body []byte) error) error {
	err := process(ctx, msg.Body)
	if err == nil {
		return msg.Ack(false)
	}
	if ctx.Err() != nil {
		_ = msg.Nack(false, true)
		return err
	}
	logger.Error("[Queue] error processing message", "queue", queueName, "err", err)
	HandleProcessingError(ch, msg, queueName, err)
	return err
}
