package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// result is what lands in a caller's reply slot: either a decoded reply
// envelope or a transport-level error.
type result struct {
	reply domain.TaskReply
	err   error
}

// Producer is the control plane's RPC surface onto the bus. It owns one
// exclusive reply queue, a pending table keyed by correlation_id, and a
// background consumer that routes replies into per-call slots.
//
// Safe for concurrent callers; each in-flight call owns its slot.
type Producer struct {
	cfg  config.Config
	conn *Conn
	id   string

	mu      sync.Mutex
	ch      *amqp.Channel
	replyQ  string
	pending map[string]chan result
	closed  bool

	// Serializes frame writes on the shared publishing channel.
	pubMu sync.Mutex
}

var _ domain.TaskBus = (*Producer)(nil)

// NewProducer opens the publishing channel, declares the exclusive reply
// queue, and starts the reply consumer.
func NewProducer(ctx context.Context, conn *Conn, cfg config.Config) (*Producer, error) {
	p := &Producer{
		cfg:     cfg,
		conn:    conn,
		id:      fmt.Sprintf("producer-%d", os.Getpid()),
		pending: make(map[string]chan result),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.setupLocked(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// setupLocked (re)creates the channel, reply queue, and reply consumer.
// Caller holds p.mu.
func (p *Producer) setupLocked(ctx context.Context) error {
	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return err
	}
	if err := declareExchanges(ch); err != nil {
		_ = ch.Close()
		return err
	}
	replyQ, err := declareReplyQueue(ch)
	if err != nil {
		_ = ch.Close()
		return err
	}
	deliveries, err := ch.Consume(replyQ, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("op=bus.Producer.setup: consume reply queue: %w", err)
	}
	p.ch = ch
	p.replyQ = replyQ
	go p.replyLoop(ch, deliveries)
	slog.Info("producer ready",
		slog.String("producer_id", p.id),
		slog.String("reply_queue", replyQ))
	return nil
}

// replyLoop routes every reply into its slot. When the delivery stream
// closes the channel is gone: all waiters fail with BusReset and the next
// call rebuilds the channel. The loop only tears down state while the
// producer still points at the channel it serves; a stale loop whose
// channel was already replaced must not clobber the fresh one or fail
// calls riding it.
func (p *Producer) replyLoop(ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		p.routeReply(d)
	}
	p.mu.Lock()
	if p.ch != ch {
		p.mu.Unlock()
		return
	}
	closed := p.closed
	p.ch = nil
	p.mu.Unlock()
	if !closed {
		slog.Warn("reply consumer stream closed, failing in-flight calls")
	}
	p.failPending(domain.E(domain.ErrBusReset, "reply channel closed"))
}

func (p *Producer) routeReply(d amqp.Delivery) {
	var reply domain.TaskReply
	decodeErr := json.Unmarshal(d.Body, &reply)
	corr := d.CorrelationId
	if corr == "" {
		corr = reply.CorrelationID
	}
	if corr == "" {
		slog.Debug("reply without correlation_id dropped")
		return
	}
	p.mu.Lock()
	slot, ok := p.pending[corr]
	if ok {
		delete(p.pending, corr)
	}
	p.mu.Unlock()
	if !ok {
		// Fanout RPCs get one reply per worker; only the first wins.
		slog.Debug("late reply dropped", slog.String("correlation_id", corr))
		return
	}
	if decodeErr != nil {
		slot <- result{err: domain.E(domain.ErrBadReply, "decode reply: %v", decodeErr)}
		return
	}
	slot <- result{reply: reply}
}

func (p *Producer) failPending(err error) {
	p.mu.Lock()
	pend := p.pending
	p.pending = make(map[string]chan result)
	p.mu.Unlock()
	for _, slot := range pend {
		slot <- result{err: err}
	}
}

func (p *Producer) register(corr string, slot chan result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.E(domain.ErrBusUnavailable, "producer closed")
	}
	p.pending[corr] = slot
	return nil
}

func (p *Producer) unregister(corr string) {
	p.mu.Lock()
	delete(p.pending, corr)
	p.mu.Unlock()
}

func (p *Producer) newRequest(taskType domain.TaskType, params any) (domain.TaskRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.TaskRequest{}, domain.E(domain.ErrInvalidInput, "encode %s parameters: %v", taskType, err)
	}
	now := time.Now()
	return domain.TaskRequest{
		TaskID:        uuid.NewString(),
		TaskType:      taskType,
		Timestamp:     now.Unix(),
		Parameters:    raw,
		ProducerID:    p.id,
		SentAtMS:      now.UnixMilli(),
		CorrelationID: uuid.NewString(),
	}, nil
}

func (p *Producer) publish(ctx context.Context, exchange, key string, req domain.TaskRequest, wantReply bool) error {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.E(domain.ErrInvalidInput, "encode request: %v", err)
	}
	p.mu.Lock()
	if p.ch == nil {
		if err := p.setupLocked(ctx); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	ch, replyQ := p.ch, p.replyQ
	p.mu.Unlock()

	pub := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: req.CorrelationID,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		AppId:         p.id,
		MessageId:     uuid.NewString(),
		Body:          body,
	}
	if wantReply {
		pub.ReplyTo = replyQ
	}
	p.pubMu.Lock()
	err = ch.PublishWithContext(ctx, exchange, key, false, false, pub)
	p.pubMu.Unlock()
	if err != nil {
		p.mu.Lock()
		p.ch = nil
		p.mu.Unlock()
		return domain.E(domain.ErrBusReset, "publish %s: %v", req.TaskType, err)
	}
	observability.ObservePublish(exchange, string(req.TaskType))
	return nil
}

// Call publishes a request and blocks until its reply arrives, the deadline
// passes, or the channel resets. The pending entry is removed on every exit
// path.
func (p *Producer) Call(ctx context.Context, exchange, key string, taskType domain.TaskType, params any) (domain.TaskReply, error) {
	tr := otel.Tracer("bus.producer")
	ctx, span := tr.Start(ctx, "rpc."+string(taskType))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout())
	defer cancel()

	req, err := p.newRequest(taskType, params)
	if err != nil {
		return domain.TaskReply{}, err
	}
	slot := make(chan result, 1)
	if err := p.register(req.CorrelationID, slot); err != nil {
		return domain.TaskReply{}, err
	}
	defer p.unregister(req.CorrelationID)

	start := time.Now()
	if err := p.publish(ctx, exchange, key, req, true); err != nil {
		observability.ObserveRPC(string(taskType), "publish_error", time.Since(start).Seconds())
		return domain.TaskReply{}, err
	}

	select {
	case res := <-slot:
		elapsed := time.Since(start).Seconds()
		if res.err != nil {
			observability.ObserveRPC(string(taskType), "bus_error", elapsed)
			return domain.TaskReply{}, res.err
		}
		reply := res.reply
		if reply.CorrelationID != "" && reply.CorrelationID != req.CorrelationID {
			observability.ObserveRPC(string(taskType), "bad_reply", elapsed)
			return domain.TaskReply{}, domain.E(domain.ErrBadReply,
				"correlation mismatch: sent %s, got %s", req.CorrelationID, reply.CorrelationID)
		}
		switch reply.Status {
		case domain.StatusSuccess:
			observability.ObserveRPC(string(taskType), "success", elapsed)
			return reply, nil
		case domain.StatusError:
			observability.ObserveRPC(string(taskType), "worker_error", elapsed)
			return reply, domain.DecodeWireError(reply.Error)
		default:
			observability.ObserveRPC(string(taskType), "bad_reply", elapsed)
			return domain.TaskReply{}, domain.E(domain.ErrBadReply, "unknown reply status %q", reply.Status)
		}
	case <-ctx.Done():
		observability.ObserveRPC(string(taskType), "timeout", time.Since(start).Seconds())
		return domain.TaskReply{}, domain.E(domain.ErrTimeout,
			"rpc %s after %s: %v", taskType, p.cfg.RPCTimeout(), ctx.Err())
	}
}

// Send publishes without waiting for a reply; no slot is allocated.
func (p *Producer) Send(ctx context.Context, exchange, key string, taskType domain.TaskType, params any) (domain.SentAck, error) {
	req, err := p.newRequest(taskType, params)
	if err != nil {
		return domain.SentAck{}, err
	}
	if err := p.publish(ctx, exchange, key, req, false); err != nil {
		return domain.SentAck{}, err
	}
	return domain.SentAck{Status: domain.StatusSent, CorrelationID: req.CorrelationID}, nil
}

// Close stops the producer; in-flight calls fail with BusReset.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ch := p.ch
	p.ch = nil
	p.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	p.failPending(domain.E(domain.ErrBusReset, "producer closed"))
	return nil
}

// callInto performs a Call and decodes the success result into out.
func (p *Producer) callInto(ctx context.Context, exchange, key string, taskType domain.TaskType, params, out any) error {
	reply, err := p.Call(ctx, exchange, key, taskType, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(reply.Result) == 0 {
		return domain.E(domain.ErrBadReply, "%s reply carries no result", taskType)
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return domain.E(domain.ErrBadReply, "decode %s result: %v", taskType, err)
	}
	return nil
}

// Fanout mutations. Every worker applies them; the first reply wins.

func (p *Producer) CreateTenant(ctx domain.Context, tenantID string) error {
	return p.callInto(ctx, ExchangeCacheUpdates, "", domain.TaskCreateTenant,
		domain.TenantParams{TenantID: tenantID}, &domain.SuccessResult{})
}

func (p *Producer) DeleteTenant(ctx domain.Context, tenantID string) error {
	return p.callInto(ctx, ExchangeCacheUpdates, "", domain.TaskDeleteTenant,
		domain.TenantParams{TenantID: tenantID}, &domain.SuccessResult{})
}

func (p *Producer) CreateUser(ctx domain.Context, tenantID, userID, faceID, imageB64 string) ([]float32, error) {
	var out domain.EmbeddingResult
	err := p.callInto(ctx, ExchangeCacheUpdates, "", domain.TaskCreateUser,
		domain.EnrollParams{TenantID: tenantID, UserID: userID, FaceID: faceID, ImageB64: imageB64}, &out)
	if err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

func (p *Producer) DeleteUser(ctx domain.Context, tenantID, userID string) error {
	return p.callInto(ctx, ExchangeCacheUpdates, "", domain.TaskDeleteUser,
		domain.UserParams{TenantID: tenantID, UserID: userID}, &domain.SuccessResult{})
}

func (p *Producer) AddFace(ctx domain.Context, tenantID, userID, faceID, imageB64 string) ([]float32, error) {
	var out domain.EmbeddingResult
	err := p.callInto(ctx, ExchangeCacheUpdates, "", domain.TaskAddFace,
		domain.EnrollParams{TenantID: tenantID, UserID: userID, FaceID: faceID, ImageB64: imageB64}, &out)
	if err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

func (p *Producer) DeleteFace(ctx domain.Context, tenantID, userID, faceID string) error {
	return p.callInto(ctx, ExchangeCacheUpdates, "", domain.TaskDeleteFace,
		domain.FaceParams{TenantID: tenantID, UserID: userID, FaceID: faceID}, &domain.SuccessResult{})
}

// Processing tasks. Exactly one worker serves each.

func (p *Producer) RecognizeFace(ctx domain.Context, tenantID, imageB64 string) (domain.Recognition, error) {
	var out domain.RecognitionResult
	err := p.callInto(ctx, ExchangeFaceTasks, string(domain.TaskFaceRecognition), domain.TaskFaceRecognition,
		domain.RecognitionParams{TenantID: tenantID, ImageB64: imageB64}, &out)
	if err != nil {
		return domain.Recognition{}, err
	}
	return domain.Recognition{UserID: out.UserID, Confidence: out.Confidence, BBox: out.BBox}, nil
}

func (p *Producer) UserFaces(ctx domain.Context, tenantID, userID string) ([]string, error) {
	var out domain.UserFacesResult
	err := p.callInto(ctx, ExchangeFaceTasks, string(domain.TaskGetUserFaces), domain.TaskGetUserFaces,
		domain.UserParams{TenantID: tenantID, UserID: userID}, &out)
	if err != nil {
		return nil, err
	}
	return out.FaceIDs, nil
}

func (p *Producer) CacheStats(ctx domain.Context) (domain.CacheStatsResult, error) {
	var out domain.CacheStatsResult
	err := p.callInto(ctx, ExchangeFaceTasks, string(domain.TaskGetCacheStats), domain.TaskGetCacheStats,
		struct{}{}, &out)
	return out, err
}

func (p *Producer) WorkerHealth(ctx domain.Context) (domain.HealthResult, error) {
	var out domain.HealthResult
	err := p.callInto(ctx, ExchangeFaceTasks, string(domain.TaskHealthCheck), domain.TaskHealthCheck,
		struct{}{}, &out)
	return out, err
}
