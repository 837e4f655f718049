package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue implements Queue on RabbitMQ. Retries are published to a retry
// queue per backoff delay whose queue TTL equals that delay; when it lapses the
// broker dead-letters the message back onto the main queue. Every message in
// one retry queue shares its TTL, so expiry follows publish order.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	opts Options

	mainName   string
	retryName  string
	failedName string
	prefetch   int

	pubMu       sync.Mutex
	retryQueues map[int64]string
	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

// NewRabbitQueue dials url and declares the main and failed queues. Retry
// queues are declared on first use.
// prefetch bounds unacknowledged deliveries and should match worker concurrency.
func NewRabbitQueue(url, name string, prefetch int, opts Options) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &RabbitQueue{
		conn:        conn,
		ch:          ch,
		opts:        opts.withDefaults(),
		mainName:    name,
		retryName:   name + ".retry",
		failedName:  name + ".failed",
		prefetch:    prefetch,
		retryQueues: make(map[int64]string),
	}
	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) declare() error {
	if _, err := q.ch.QueueDeclare(q.mainName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.mainName, err)
	}
	if _, err := q.ch.QueueDeclare(q.failedName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.failedName, err)
	}
	return nil
}

func (q *RabbitQueue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	return q.conn.Close()
}

func (q *RabbitQueue) Ping(_ context.Context) error {
	if q.conn.IsClosed() {
		return fmt.Errorf("rabbitmq: %w", ErrClosed)
	}
	return nil
}

// retryQueue returns the retry queue for delay, declaring it on first use.
// Callers hold pubMu.
func (q *RabbitQueue) retryQueue(delay time.Duration) (string, error) {
	ms := delay.Milliseconds()
	if name, ok := q.retryQueues[ms]; ok {
		return name, nil
	}
	name := q.retryName + "." + strconv.FormatInt(ms, 10)
	args := amqp.Table{
		"x-message-ttl":             ms,
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.mainName,
	}
	if _, err := q.ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return name, fmt.Errorf("declare queue %s: %w", name, err)
	}
	q.retryQueues[ms] = name
	return name, nil
}

func (q *RabbitQueue) publish(ctx context.Context, queueName string, body []byte) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	return q.publishLocked(ctx, queueName, body)
}

func (q *RabbitQueue) publishLocked(ctx context.Context, queueName string, body []byte) error {
	return q.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         JobName,
		Body:         body,
	})
}

func (q *RabbitQueue) publishRetry(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	name, err := q.retryQueue(delay)
	if err != nil {
		return name, err
	}
	return name, q.publishLocked(ctx, name, body)
}

func (q *RabbitQueue) Enqueue(ctx context.Context, item WorkItem) (string, error) {
	env := newEnvelope(item, q.opts)
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if err := q.publish(ctx, q.mainName, body); err != nil {
		return "", fmt.Errorf("publish work item: %w", err)
	}
	return env.ID, nil
}

func (q *RabbitQueue) startConsuming() error {
	q.consumeOnce.Do(func() {
		if err := q.ch.Qos(q.prefetch, 0, false); err != nil {
			q.consumeErr = fmt.Errorf("set qos: %w", err)
			return
		}
		q.deliveries, q.consumeErr = q.ch.Consume(q.mainName, "", false, false, false, false, nil)
		if q.consumeErr != nil {
			q.consumeErr = fmt.Errorf("consume %s: %w", q.mainName, q.consumeErr)
		}
	})
	return q.consumeErr
}

func (q *RabbitQueue) Reserve(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if err := q.startConsuming(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		d := decodeDelivery(string(msg.Body))
		d.handle = msg
		return d, nil
	case <-timer.C:
		return nil, ErrNoItem
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func delivery(d *Delivery) (amqp.Delivery, error) {
	msg, ok := d.handle.(amqp.Delivery)
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("delivery was not reserved from rabbitmq")
	}
	return msg, nil
}

func (q *RabbitQueue) Complete(_ context.Context, d *Delivery) error {
	msg, err := delivery(d)
	if err != nil {
		return err
	}
	if err := msg.Ack(false); err != nil {
		return fmt.Errorf("ack work item: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Fail(ctx context.Context, d *Delivery, cause error, retryable bool) (Outcome, error) {
	msg, err := delivery(d)
	if err != nil {
		return OutcomeRetained, err
	}

	env := d.Envelope
	retry, delay := recordFailure(&env, cause, retryable, q.opts)

	body := msg.Body
	if d.DecodeErr == nil {
		if body, err = json.Marshal(env); err != nil {
			return OutcomeRetained, fmt.Errorf("encode envelope: %w", err)
		}
	}

	outcome, target := OutcomeRetained, q.failedName
	if retry {
		outcome = OutcomeRetryScheduled
		target, err = q.publishRetry(ctx, body, delay)
	} else {
		err = q.publish(ctx, target, body)
	}
	if err != nil {
		// Leave the original unacked so the broker redelivers it.
		return outcome, fmt.Errorf("publish to %s: %w", target, err)
	}
	if err := msg.Ack(false); err != nil {
		return outcome, fmt.Errorf("ack work item: %w", err)
	}
	return outcome, nil
}

// Maintain is a no-op: the broker redelivers unacked messages and the retry
// queue's dead-lettering promotes due retries.
func (q *RabbitQueue) Maintain(_ context.Context) error {
	return nil
}

// Failed peeks at retained items by fetching and then requeueing them.
func (q *RabbitQueue) Failed(_ context.Context, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	var (
		out     []Envelope
		lastTag uint64
	)
	for len(out) < limit {
		msg, ok, err := ch.Get(q.failedName, false)
		if err != nil {
			return nil, fmt.Errorf("get failed item: %w", err)
		}
		if !ok {
			break
		}
		lastTag = msg.DeliveryTag
		d := decodeDelivery(string(msg.Body))
		if d.DecodeErr != nil {
			out = append(out, Envelope{Name: JobName, FailedReason: "malformed payload: " + string(msg.Body)})
			continue
		}
		out = append(out, d.Envelope)
	}
	if lastTag > 0 {
		if err := ch.Nack(lastTag, true, true); err != nil {
			return nil, fmt.Errorf("requeue failed items: %w", err)
		}
	}
	return out, nil
}

var _ Queue = (*RabbitQueue)(nil)
