package hive

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zaebee/aura/internal/logger"
)

const (
	eventSubjectPrefix = "aura.hive.events."
	heartbeatSubject   = "aura.hive.heartbeat"
	serviceName        = "core-service"
	emitterQueueSize   = 256
)

// EventSink publishes one serialized event to a subject. Publication is
// best-effort; the pipeline never fails because a sink did.
type EventSink interface {
	Publish(subject string, payload []byte) error
	Close()
}

// LogSink writes events to the process log. Used when no NATS URL is
// configured.
type LogSink struct{}

func (LogSink) Publish(subject string, payload []byte) error {
	logger.Event("EMIT", "publish", map[string]interface{}{
		"subject": subject, "payload": string(payload),
	})
	return nil
}

func (LogSink) Close() {}

// NATSSink publishes events to a NATS server.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink connects to the given NATS URL.
func NewNATSSink(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("aura-core"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn}, nil
}

func (s *NATSSink) Publish(subject string, payload []byte) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats disconnected")
	}
	return s.conn.Publish(subject, payload)
}

func (s *NATSSink) Close() {
	s.conn.Drain()
}

type emitterJob struct {
	subject string
	payload []byte
}

// Emitter publishes audit events and heartbeats off the request path. Jobs
// go through a bounded queue; when the queue is full the oldest job is
// dropped so the pipeline never blocks on a slow sink.
type Emitter struct {
	sink  EventSink
	queue chan emitterJob
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewEmitter starts the background publisher over the given sink.
func NewEmitter(sink EventSink) *Emitter {
	e := &Emitter{
		sink:  sink,
		queue: make(chan emitterJob, emitterQueueSize),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for job := range e.queue {
		if err := e.sink.Publish(job.subject, job.payload); err != nil {
			logger.Warn("EMIT", fmt.Sprintf("publish %s failed: %v", job.subject, err))
		}
	}
}

// Emit publishes an audit event for one completed request, plus the service
// heartbeat. Fire-and-forget relative to the RPC response.
func (e *Emitter) Emit(eventType string, success bool, sessionToken string) {
	now := time.Now().Unix()
	event := map[string]interface{}{
		"success":    success,
		"event_type": eventType,
		"timestamp":  now,
	}
	if sessionToken != "" {
		event["session_token"] = sessionToken
	}
	e.enqueue(eventSubjectPrefix+eventType, event)
	e.enqueue(heartbeatSubject, map[string]interface{}{
		"status":    "active",
		"timestamp": now,
		"service":   serviceName,
	})
}

func (e *Emitter) enqueue(subject string, event map[string]interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for {
		select {
		case e.queue <- emitterJob{subject: subject, payload: payload}:
			return
		default:
			// Queue saturated: drop the oldest job and retry.
			select {
			case <-e.queue:
			default:
			}
		}
	}
}

// Close drains the queue and the sink. Emit calls after Close are no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
	e.sink.Close()
}
