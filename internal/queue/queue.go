package queue

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExtractQueue = "extract_queue"
	// MaxRetries is the number of redeliveries before a message is parked
	// in the dead-letter queue.
	MaxRetries = 10
)

// Publisher is the publishing side of an AMQP channel.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// URL builds the broker address from the RABBITMQ_* variables.
func URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

func Init() (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(URL())
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every queue with its _retry and _dlq companions. A
// message published to the retry queue expires after QUEUE_RETRY_MS and is
// dead-lettered back to its queue.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	retryTTL := int32(util.GetEnvInt("QUEUE_RETRY_MS", 10000))
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}
	return nil
}

// PublishFIFO publishes a persistent message on the default exchange.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
