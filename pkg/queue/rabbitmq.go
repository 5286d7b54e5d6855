package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"B2P/task"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	submissionQueue = "b2p_submissions"
	dlxName         = "b2p_dlq_exchange"
	dlqName         = "b2p_dlq"

	// MaxRedeliveries 失败后最多重投次数, 超过后进死信队列
	MaxRedeliveries = 2
)

// AMQP publishes jobs to RabbitMQ and consumes them in the same process.
type AMQP struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	handler     Handler
	concurrency int

	// amqp.Channel 并发 publish 不安全, 需要加锁
	pubMu sync.Mutex

	mu       sync.Mutex
	stopped  bool
	consumer string
	done     chan struct{}
}

// NewAMQP dials url and declares the job queue with its dead-letter route.
func NewAMQP(url string, h Handler, concurrency int) (*AMQP, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQP{
		conn:        conn,
		ch:          ch,
		handler:     h,
		concurrency: concurrency,
		consumer:    "b2p-worker",
		done:        make(chan struct{}),
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dlqName, dlqName, dlxName, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqName,
	}
	if _, err := ch.QueueDeclare(submissionQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", submissionQueue, err)
	}
	return nil
}

func (q *AMQP) Dispatch(ctx context.Context, job task.Job) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.publish(body, nil); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *AMQP) publish(body []byte, headers amqp.Table) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	return q.ch.Publish("", submissionQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
	})
}

// Consume processes deliveries until the channel closes or Shutdown cancels
// the consumer. It returns after every started job has finished.
func (q *AMQP) Consume(ctx context.Context) error {
	deliveries, err := q.ch.Consume(submissionQueue, q.consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", submissionQueue, err)
	}
	defer close(q.done)

	sem := make(chan struct{}, q.concurrency)
	var wg sync.WaitGroup
	bg := context.WithoutCancel(ctx)

	for d := range deliveries {
		sem <- struct{}{}
		wg.Add(1)
		go func(del amqp.Delivery) {
			defer func() { <-sem; wg.Done() }()
			q.handle(bg, del)
		}(d)
	}
	wg.Wait()
	return nil
}

func (q *AMQP) handle(ctx context.Context, del amqp.Delivery) {
	var job task.Job
	if err := json.Unmarshal(del.Body, &job); err != nil {
		zap.L().Error("invalid job payload, dead-lettering", zap.Error(err))
		_ = del.Nack(false, false)
		return
	}
	log := zap.L().With(zap.String("submission_id", job.ID), zap.String("task", job.Submission.Task))

	err := runSafely(ctx, q.handler, job)
	if err == nil {
		_ = del.Ack(false)
		return
	}

	attempts := attemptsOf(del.Headers)
	if attempts >= MaxRedeliveries {
		log.Error("job exceeded retries, sending to DLQ", zap.Int("attempts", attempts), zap.Error(err))
		_ = del.Nack(false, false)
		return
	}

	headers := amqp.Table{"x-attempts": int32(attempts + 1)}
	for k, v := range del.Headers {
		if k != "x-attempts" {
			headers[k] = v
		}
	}
	if perr := q.publish(del.Body, headers); perr != nil {
		log.Error("republish for retry failed", zap.Error(perr))
		_ = del.Nack(false, false)
		return
	}
	log.Warn("requeued job for retry", zap.Int("attempt", attempts+1), zap.Error(err))
	_ = del.Ack(false)
}

func attemptsOf(h amqp.Table) int {
	v, ok := h["x-attempts"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

// Shutdown cancels the consumer, waits for running jobs and closes the
// connection.
func (q *AMQP) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	already := q.stopped
	q.stopped = true
	q.mu.Unlock()
	if already {
		return nil
	}

	if err := q.ch.Cancel(q.consumer, false); err != nil {
		zap.L().Warn("cancel amqp consumer", zap.Error(err))
	}
	var err error
	select {
	case <-q.done:
	case <-ctx.Done():
		err = fmt.Errorf("drain amqp jobs: %w", ctx.Err())
	}
	_ = q.ch.Close()
	if cerr := q.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
