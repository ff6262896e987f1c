package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// Handler processes one decoded task request and returns the result payload.
type Handler interface {
	Handle(ctx context.Context, req domain.TaskRequest) (any, error)
	WorkerID() string
}

// replyPublisher is the slice of *amqp.Channel the consumer needs to answer
// requests; narrowed for tests.
type replyPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer drains both worker queues: the per-worker fanout queue carrying
// cache mutations, and the shared processing queue carrying compute tasks.
// It survives broker restarts by rebuilding its channels on top of Conn.
type Consumer struct {
	cfg     config.Config
	conn    *Conn
	handler Handler
}

func NewConsumer(conn *Conn, cfg config.Config, handler Handler) *Consumer {
	return &Consumer{cfg: cfg, conn: conn, handler: handler}
}

// Run consumes until ctx is canceled. Each broken session is rebuilt; the
// blocking Channel call inside serve paces reconnect attempts.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("consumer session ended, rebuilding",
				slog.String("worker_id", c.handler.WorkerID()),
				slog.Any("error", err))
		}
	}
}

func (c *Consumer) serve(ctx context.Context) error {
	fanCh, err := c.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = fanCh.Close() }()
	procCh, err := c.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = procCh.Close() }()

	if err := declareExchanges(fanCh); err != nil {
		return err
	}
	fanQ, err := declareFanoutQueue(fanCh)
	if err != nil {
		return err
	}
	if err := declareProcessingQueue(procCh); err != nil {
		return err
	}
	// Mutations are cheap; compute tasks are serialized per worker.
	if err := fanCh.Qos(c.cfg.WorkerPrefetch, 0, false); err != nil {
		return fmt.Errorf("op=bus.Consumer.serve: qos fanout: %w", err)
	}
	if err := procCh.Qos(c.cfg.WorkerPrefetch, 0, false); err != nil {
		return fmt.Errorf("op=bus.Consumer.serve: qos processing: %w", err)
	}

	fanMsgs, err := fanCh.Consume(fanQ, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=bus.Consumer.serve: consume %s: %w", fanQ, err)
	}
	procMsgs, err := procCh.Consume(QueueProcessingTasks, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=bus.Consumer.serve: consume %s: %w", QueueProcessingTasks, err)
	}

	slog.Info("worker consuming",
		slog.String("worker_id", c.handler.WorkerID()),
		slog.String("fanout_queue", fanQ),
		slog.String("processing_queue", QueueProcessingTasks))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-fanMsgs:
			if !ok {
				return fmt.Errorf("op=bus.Consumer.serve: fanout stream closed")
			}
			c.process(ctx, fanCh, d)
		case d, ok := <-procMsgs:
			if !ok {
				return fmt.Errorf("op=bus.Consumer.serve: processing stream closed")
			}
			c.process(ctx, procCh, d)
		}
	}
}

// process handles one delivery end to end: decode, dispatch, reply, settle.
// Failed tasks are dropped (no requeue); a poisoned message must not wedge
// the queue behind prefetch=1.
func (c *Consumer) process(ctx context.Context, pub replyPublisher, d amqp.Delivery) {
	var req domain.TaskRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		slog.Warn("malformed task dropped",
			slog.String("worker_id", c.handler.WorkerID()),
			slog.Any("error", err))
		c.reply(ctx, pub, d, req, nil, domain.E(domain.ErrInvalidInput, "decode task: %v", err))
		_ = d.Nack(false, false)
		return
	}

	tr := otel.Tracer("bus.consumer")
	tctx, span := tr.Start(ctx, "task."+string(req.TaskType))
	defer span.End()

	observability.StartTask(string(req.TaskType))
	hctx, cancel := context.WithTimeout(tctx, c.cfg.RPCTimeout())
	result, err := c.handler.Handle(hctx, req)
	cancel()

	c.reply(tctx, pub, d, req, result, err)

	if err != nil {
		observability.FailTask(string(req.TaskType), domain.Kind(err))
		slog.Warn("task failed",
			slog.String("worker_id", c.handler.WorkerID()),
			slog.String("task_type", string(req.TaskType)),
			slog.String("task_id", req.TaskID),
			slog.Any("error", err))
		_ = d.Nack(false, false)
		return
	}
	observability.CompleteTask(string(req.TaskType))
	_ = d.Ack(false)
}

// reply publishes the outcome to the requester's reply queue when one was
// named. Replies ride the default exchange and stay transient: the reply
// queue dies with its consumer anyway.
func (c *Consumer) reply(ctx context.Context, pub replyPublisher, d amqp.Delivery, req domain.TaskRequest, result any, herr error) {
	if d.ReplyTo == "" {
		return
	}
	corr := d.CorrelationId
	if corr == "" {
		corr = req.CorrelationID
	}
	rep := domain.TaskReply{
		Status:        domain.StatusSuccess,
		WorkerID:      c.handler.WorkerID(),
		ProcessedAtMS: time.Now().UnixMilli(),
		CorrelationID: corr,
	}
	if herr != nil {
		rep.Status = domain.StatusError
		rep.Error = domain.EncodeWireError(herr)
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			rep.Status = domain.StatusError
			rep.Error = domain.EncodeWireError(domain.E(domain.ErrInternal, "encode result: %v", err))
		} else {
			rep.Result = raw
		}
	}
	body, err := json.Marshal(rep)
	if err != nil {
		slog.Error("encode reply", slog.Any("error", err))
		return
	}
	err = pub.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corr,
		Body:          body,
	})
	if err != nil {
		slog.Warn("publish reply failed",
			slog.String("reply_to", d.ReplyTo),
			slog.Any("error", err))
	}
}
