package redo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// rabbitMQAdapter 以非持久 topic exchange 模拟发布订阅：每个订阅声明独占、自动删除的匿名队列，
// 按 "<name>:<lane>" 绑定；无绑定队列时消息被 broker 退回（mandatory），据此发现无人监听。

type rabbitMQAdapter struct {
	cfg    QueueConfig
	logger Logger

	conn   *amqp.Connection
	connMu sync.Mutex
}

func newRabbitMQAdapter(cfg QueueConfig, logger Logger) (Transport, error) {
	if cfg.URI == "" || cfg.Exchange == "" {
		return nil, fmt.Errorf("rabbitmq config invalid")
	}
	ad := &rabbitMQAdapter{cfg: cfg, logger: logger}
	if err := ad.ensureConnection(); err != nil {
		return nil, err
	}
	if err := ad.declareTopology(); err != nil {
		return nil, err
	}
	return ad, nil
}

func (r *rabbitMQAdapter) ensureConnection() error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}
	// amqp.Dial 自动支持 amqp:// 和 amqps://
	conn, err := amqp.Dial(r.cfg.URI)
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

func (r *rabbitMQAdapter) channel() (*amqp.Channel, error) {
	if err := r.ensureConnection(); err != nil {
		return nil, fmt.Errorf("rabbitmq connection failed: %w", err)
	}
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel creation failed: %w", err)
	}
	return ch, nil
}

func (r *rabbitMQAdapter) declareTopology() error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	r.logger.Info(context.Background(), "declare exchange", "exchange", r.cfg.Exchange)
	// 非持久：与 PUBSUB 语义一致，broker 重启后不保留
	return ch.ExchangeDeclare(r.cfg.Exchange, "topic", false, false, false, false, nil)
}

// confirmTimeout 为等待 broker 发布确认的上限。
const confirmTimeout = 5 * time.Second

// Publish 以 mandatory + confirm 模式发布：broker 在 ack 之前先发送 basic.return，
// 收到 ack 时检查是否有退回即可判断该 lane 是否有订阅者。
func (r *rabbitMQAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("rabbitmq confirm mode failed: %w", err)
	}
	rets := ch.NotifyReturn(make(chan amqp.Return, 1))
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	err = ch.PublishWithContext(ctx, r.cfg.Exchange, channel, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish failed (channel=%s): %w", channel, err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()
	select {
	case <-rets:
		return dropped(ctx, r.logger, r.cfg.Strict, channel)
	case c, ok := <-acks:
		if !ok {
			return fmt.Errorf("rabbitmq channel closed before confirm (channel=%s)", channel)
		}
		if !c.Ack {
			return fmt.Errorf("rabbitmq publish nacked (channel=%s)", channel)
		}
		select {
		case <-rets:
			return dropped(ctx, r.logger, r.cfg.Strict, channel)
		default:
			return nil
		}
	case <-timer.C:
		return fmt.Errorf("rabbitmq publish confirm timeout (channel=%s)", channel)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *rabbitMQAdapter) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	r.logger.Info(ctx, "queue bind", "queue", q.Name, "exchange", r.cfg.Exchange, "binding_key", channel)
	if err := ch.QueueBind(q.Name, channel, r.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	tag := fmt.Sprintf("%s-%d", channel, time.Now().UnixNano())
	msgs, err := ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &rabbitSub{
		ch:      ch,
		tag:     tag,
		channel: channel,
		msgs:    msgs,
		closed:  ch.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func (r *rabbitMQAdapter) Close(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

type rabbitSub struct {
	ch      *amqp.Channel
	tag     string
	channel string
	msgs    <-chan amqp.Delivery
	closed  chan *amqp.Error
}

func (s *rabbitSub) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case err := <-s.closed:
		// Channel 被服务器关闭
		return nil, false, fmt.Errorf("rabbitmq channel closed (channel=%s): %v", s.channel, err)
	case d, ok := <-s.msgs:
		if !ok {
			return nil, false, fmt.Errorf("rabbitmq deliveries closed (channel=%s): %w", s.channel, ErrClosed)
		}
		return d.Body, true, nil
	case <-t.C:
		return nil, false, nil
	}
}

func (s *rabbitSub) Close(ctx context.Context) error {
	cerr := s.ch.Cancel(s.tag, false)
	if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return errors.Join(cerr, err)
	}
	if errors.Is(cerr, amqp.ErrClosed) {
		return nil
	}
	return cerr
}
