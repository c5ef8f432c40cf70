package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/sandman-core/internal/actuator"
	"github.com/nerrad567/sandman-core/internal/command"
	"github.com/nerrad567/sandman-core/internal/infrastructure/mqtt"
)

// snapshotQueueSize bounds the outbound state queue. A full queue drops
// the oldest snapshot: only the latest state per actuator matters on
// the wire, and a slow broker must never stall the control path.
const snapshotQueueSize = 32

// MQTTClient is the broker surface the bridge needs. Satisfied by
// *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
}

// CommandSink receives commands decoded from the network. Satisfied by
// *router.Router.
type CommandSink interface {
	SubmitNetwork(cmd command.Command)
}

// HaltController is the emergency-stop surface. Satisfied by
// *safety.Supervisor.
type HaltController interface {
	EmergencyStop() error
	ClearHalt()
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bridge connects the control core to the MQTT broker: inbound set and
// e-stop messages become commands, outbound state transitions become
// retained publishes so late subscribers always see current state.
type Bridge struct {
	client MQTTClient
	topics mqtt.Topics
	sink   CommandSink
	halt   HaltController

	qos byte
	ttl time.Duration

	snapCh chan actuator.Snapshot

	// cache holds the last published payload per topic so a reconnect
	// can republish the full retained picture.
	mu     sync.Mutex
	cache  map[string][]byte
	closed bool

	logger Logger
}

// New creates a bridge.
//
// Parameters:
//   - client: Connected MQTT client
//   - topics: Topic builder for this bed
//   - sink: Destination for decoded network commands
//   - halt: Emergency-stop controller
//   - qos: QoS for every publish and subscription
//   - ttl: TTL stamped on decoded commands
func New(client MQTTClient, topics mqtt.Topics, sink CommandSink, halt HaltController, qos byte, ttl time.Duration) *Bridge {
	return &Bridge{
		client: client,
		topics: topics,
		sink:   sink,
		halt:   halt,
		qos:    qos,
		ttl:    ttl,
		snapCh: make(chan actuator.Snapshot, snapshotQueueSize),
		cache:  make(map[string][]byte),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Safe to call before Start only.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to the command topics and launches the publish
// worker. It also claims the client's connect callback to republish
// retained state after a reconnect.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.client.Subscribe(b.topics.AllSets(), b.qos, b.handleSet); err != nil {
		return fmt.Errorf("subscribing to set topics: %w", err)
	}
	if err := b.client.Subscribe(b.topics.EStop(), b.qos, b.handleEStop); err != nil {
		return fmt.Errorf("subscribing to e-stop topic: %w", err)
	}

	b.client.SetOnConnect(b.republishRetained)

	go b.publishLoop(ctx)

	b.logger.Info("bridge started",
		"sets", b.topics.AllSets(), "estop", b.topics.EStop(), "qos", b.qos)
	return nil
}

// PublishSnapshot queues a state transition for retained publish.
// Never blocks; under backpressure the oldest queued snapshot is
// dropped in favour of the new one.
func (b *Bridge) PublishSnapshot(snap actuator.Snapshot) {
	select {
	case b.snapCh <- snap:
		return
	default:
	}
	// Queue full: shed the oldest entry and try once more.
	select {
	case <-b.snapCh:
	default:
	}
	select {
	case b.snapCh <- snap:
	default:
		b.logger.Warn("snapshot dropped", "actuator", snap.Actuator)
	}
}

// PublishHalted publishes the halt latch state, retained.
func (b *Bridge) PublishHalted(halted bool) {
	payload, err := json.Marshal(HaltedMessage{
		Halted: halted,
		TS:     time.Now().UnixMilli(),
	})
	if err != nil {
		b.logger.Error("encoding halted message", "error", err)
		return
	}
	b.publishCached(b.topics.Halted(), payload)
}

// PublishReject publishes a diagnostic for a command the router
// dropped. Wired to the router's reject callback.
func (b *Bridge) PublishReject(cmd command.Command, reason error) {
	// Physical rejections stay local; the wire only carries feedback
	// for commands that arrived over it.
	if cmd.Source != command.SourceNetwork {
		return
	}
	b.publishError(ErrorMessage{
		CommandID: cmd.ID,
		Error:     reason.Error(),
		TS:        time.Now().UnixMilli(),
	})
}

func (b *Bridge) handleSet(topic string, payload []byte) error {
	actuatorID, ok := b.actuatorFromTopic(topic)
	if !ok {
		b.publishError(ErrorMessage{
			Topic: topic,
			Error: ErrUnknownTopic.Error(),
			TS:    time.Now().UnixMilli(),
		})
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	var msg SetMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishError(ErrorMessage{
			Topic: topic,
			Error: fmt.Sprintf("%s: %s", ErrMalformedPayload, err),
			TS:    time.Now().UnixMilli(),
		})
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	dir, err := command.ParseDirection(msg.Direction)
	if err != nil {
		b.publishError(ErrorMessage{
			Topic: topic,
			Error: err.Error(),
			TS:    time.Now().UnixMilli(),
		})
		return err
	}

	cmd := command.New(command.SourceNetwork, actuatorID, dir,
		time.Duration(msg.DurationMS)*time.Millisecond, b.ttl)
	b.sink.SubmitNetwork(cmd)

	b.logger.Debug("network command accepted",
		"id", cmd.ID, "actuator", actuatorID, "direction", dir.String())
	return nil
}

func (b *Bridge) handleEStop(topic string, payload []byte) error {
	var msg EStopMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishError(ErrorMessage{
			Topic: topic,
			Error: fmt.Sprintf("%s: %s", ErrMalformedPayload, err),
			TS:    time.Now().UnixMilli(),
		})
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	if msg.Engage {
		if err := b.halt.EmergencyStop(); err != nil {
			b.logger.Error("emergency stop reported errors", "error", err)
		}
	} else {
		b.halt.ClearHalt()
	}
	return nil
}

// actuatorFromTopic extracts the actuator segment from
// "<bed>/<actuator>/set". The bed prefix may itself contain slashes.
func (b *Bridge) actuatorFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.topics.Bed+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge publish loop stopped")
			return
		case snap := <-b.snapCh:
			b.publishState(snap)
		}
	}
}

func (b *Bridge) publishState(snap actuator.Snapshot) {
	remaining := snap.Remaining.Milliseconds()
	if !snap.State.Moving() || remaining < 0 {
		remaining = 0
	}
	payload, err := json.Marshal(StateMessage{
		Actuator:    snap.Actuator,
		State:       snap.State.String(),
		RemainingMS: remaining,
		TS:          snap.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		b.logger.Error("encoding state message", "actuator", snap.Actuator, "error", err)
		return
	}
	b.publishCached(b.topics.ActuatorState(snap.Actuator), payload)
}

// publishCached publishes retained and remembers the payload for the
// reconnect republish.
func (b *Bridge) publishCached(topic string, payload []byte) {
	b.mu.Lock()
	b.cache[topic] = payload
	b.mu.Unlock()

	if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("retained publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishError(msg ErrorMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.client.Publish(b.topics.Errors(), payload, b.qos, false); err != nil {
		b.logger.Warn("error publish failed", "error", err)
	}
}

// republishRetained pushes every cached retained payload again after a
// reconnect, in case the broker lost session state.
func (b *Bridge) republishRetained() {
	b.mu.Lock()
	cached := make(map[string][]byte, len(b.cache))
	for topic, payload := range b.cache {
		cached[topic] = payload
	}
	b.mu.Unlock()

	for topic, payload := range cached {
		if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
			b.logger.Warn("reconnect republish failed", "topic", topic, "error", err)
		}
	}
	b.logger.Info("retained state republished", "topics", len(cached))
}
