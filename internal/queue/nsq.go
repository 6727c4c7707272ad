package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
)

// Publisher is the subset of *nsq.Producer the NSQ queue needs.
type Publisher interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
}

// NSQ publishes each job to the topic named after its lane.
type NSQ struct {
	p Publisher
}

func NewNSQ(p Publisher) *NSQ {
	return &NSQ{p: p}
}

// NewNSQProducer connects a producer to nsqd and verifies it with a ping.
func NewNSQProducer(addr string, logger *logging.Logger) (*nsq.Producer, error) {
	prod, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)
	if err := prod.Ping(); err != nil {
		prod.Stop()
		return nil, fmt.Errorf("nsq ping %s: %w", addr, err)
	}
	return prod, nil
}

func (n *NSQ) Enqueue(_ context.Context, job delivery.Job, opts Options) error {
	body, err := job.Encode()
	if err != nil {
		return newError("encode", err)
	}
	topic := LaneName(opts.Queue)
	if opts.Delay > 0 {
		err = n.p.DeferredPublish(topic, opts.Delay, body)
	} else {
		err = n.p.Publish(topic, body)
	}
	if err != nil {
		return newError("broker_unavailable", fmt.Errorf("nsq publish %s: %w", topic, err))
	}
	return nil
}

// NSQConsumer runs jobs from one lane topic. Messages are always finished once
// the handler returns; the in-job retry loop is the only retry mechanism.
type NSQConsumer struct {
	consumer      *nsq.Consumer
	handler       Handler
	logger        *logging.Logger
	touchInterval time.Duration
	lane          string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNSQConsumer creates a consumer with concurrency handler goroutines.
func NewNSQConsumer(cfg config.NSQ, lane string, concurrency int, h Handler, logger *logging.Logger) (*NSQConsumer, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	conf := nsq.NewConfig()
	if cfg.MaxInFlight > 0 {
		conf.MaxInFlight = cfg.MaxInFlight
	}
	// Backoff sleeps can outlast the default message timeout; Touch keeps it alive.
	conf.MsgTimeout = 2 * time.Minute

	channel := cfg.Channel
	if channel == "" {
		channel = "workers"
	}
	lane = LaneName(lane)
	consumer, err := nsq.NewConsumer(lane, channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer %s/%s: %w", lane, channel, err)
	}
	consumer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)

	ctx, cancel := context.WithCancel(context.Background())
	c := &NSQConsumer{
		consumer:      consumer,
		handler:       h,
		logger:        logger,
		touchInterval: conf.MsgTimeout / 3,
		lane:          lane,
		ctx:           ctx,
		cancel:        cancel,
	}
	consumer.AddConcurrentHandlers(nsq.HandlerFunc(c.handle), concurrency)
	return c, nil
}

func (c *NSQConsumer) handle(m *nsq.Message) error {
	m.DisableAutoResponse()
	defer func() {
		if !m.HasResponded() {
			m.Finish()
		}
	}()

	job, err := delivery.DecodeJob(m.Body)
	if err != nil {
		c.logger.Plain().WithLane(config.ConnectionNSQ, c.lane).WithError(err).Error("bad job payload")
		m.Finish() // terminal: don't redeliver bad payloads
		return nil
	}

	stop := c.heartbeat(m)
	c.handler(c.ctx, job)
	stop()
	m.Finish()
	return nil
}

// heartbeat touches m until the returned stop func is called.
func (c *NSQConsumer) heartbeat(m *nsq.Message) func() {
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.touchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Touch()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// Connect attaches to nsqd directly (forcing channel creation) and to lookupd.
func (c *NSQConsumer) Connect(cfg config.NSQ) error {
	if cfg.NsqdTCPAddr != "" {
		if err := c.consumer.ConnectToNSQD(cfg.NsqdTCPAddr); err != nil {
			return fmt.Errorf("connect to nsqd: %w", err)
		}
	}
	if cfg.LookupHTTPAddr != "" {
		if err := c.consumer.ConnectToNSQLookupd(cfg.LookupHTTPAddr); err != nil {
			return fmt.Errorf("connect to lookupd: %w", err)
		}
	}
	return nil
}

// Stop drains in-flight messages and waits for handlers to return.
func (c *NSQConsumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
	c.cancel()
	c.wg.Wait()
}

// nsqLogger adapts go-nsq's logger interface to the structured logger.
type nsqLogger struct {
	l *logging.Logger
}

func (n nsqLogger) Output(_ int, s string) error {
	if n.l == nil {
		return nil
	}
	entry := n.l.Plain().WithField("component", "nsq")
	switch {
	case strings.HasPrefix(s, "ERR"):
		entry.Error(s)
	case strings.HasPrefix(s, "WRN"):
		entry.Warn(s)
	default:
		entry.Debug(s)
	}
	return nil
}
