package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/device"
)

// Service operation constants.
const (
	// topicParts is the number of parts in a command or request topic.
	topicParts = 4

	defaultWorkers        = 4
	defaultQueueSize      = 64
	defaultCommandTimeout = 30 * time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DeviceLookup resolves device IDs. *device.Catalog satisfies it.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (device.Device, error)
	ListDevices() []device.Device
	GetDeviceCount() int
}

// Invoker runs a validated method call. *device.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, d device.Device, method string, args ...device.Value) (device.Value, error)
}

// ServiceOptions holds configuration for creating a command service.
type ServiceOptions struct {
	BridgeID string
	Version  string

	MQTT     MQTTClient
	Devices  DeviceLookup
	Invoker  Invoker
	Registry *device.TypeRegistry

	// Bridge and Library feed health reports. Optional.
	Bridge  *Bridge
	Library LibraryStatus

	HealthInterval time.Duration

	// Workers is the number of commands waited on concurrently. With a
	// non-reentrant library they still reach the device one at a time.
	Workers int

	// QueueSize bounds commands waiting for a worker. Further commands
	// are rejected with BRIDGE_BUSY.
	QueueSize int

	// CommandTimeout is how long a worker waits for a result when the
	// command does not set timeout_ms.
	CommandTimeout time.Duration

	Logger Logger
}

// ServiceStats is a snapshot of command counters.
type ServiceStats struct {
	Received      uint64 `json:"received"`
	Succeeded     uint64 `json:"succeeded"`
	Failed        uint64 `json:"failed"`
	Indeterminate uint64 `json:"indeterminate"`
	Rejected      uint64 `json:"rejected"`
}

// Service receives method-call commands over MQTT, runs them through the
// Invoker and publishes acknowledgments. It also answers registry and
// device listing requests.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	mqtt           MQTTClient
	devices        DeviceLookup
	invoker        Invoker
	registry       *device.TypeRegistry
	health         *HealthReporter
	workers        int
	commandTimeout time.Duration
	queue          chan CommandMessage

	received      atomic.Uint64
	succeeded     atomic.Uint64
	failed        atomic.Uint64
	indeterminate atomic.Uint64
	rejected      atomic.Uint64

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Service-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// NewService creates a command service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.MQTT == nil {
		return nil, errors.New("miio: MQTT client is required")
	}
	if opts.Devices == nil {
		return nil, errors.New("miio: device lookup is required")
	}
	if opts.Invoker == nil {
		return nil, errors.New("miio: invoker is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("miio: type registry is required")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		mqtt:           opts.MQTT,
		devices:        opts.Devices,
		invoker:        opts.Invoker,
		registry:       opts.Registry,
		workers:        workers,
		commandTimeout: timeout,
		queue:          make(chan CommandMessage, queueSize),
		ctx:            ctx,
		ctxCancel:      cancel,
		logger:         opts.Logger,
	}
	s.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Library:   opts.Library,
		Bridge:    opts.Bridge,
	})
	if opts.Logger != nil {
		s.health.SetLogger(opts.Logger)
	}
	return s, nil
}

// Start subscribes to command and request topics and begins processing.
func (s *Service) Start(ctx context.Context) error {
	s.logInfo("starting miio command service", "workers", s.workers)

	//nolint:errcheck // Best-effort status before subscriptions
	s.health.PublishStarting()

	if err := s.mqtt.Subscribe(CommandSubscribeTopic(), 1, s.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	if err := s.mqtt.Subscribe(RequestSubscribeTopic(), 1, s.handleRequestMessage); err != nil {
		return fmt.Errorf("subscribing to requests: %w", err)
	}

	for range s.workers {
		s.wg.Add(1)
		go s.worker()
	}

	s.health.SetCounts(s.devices.GetDeviceCount(), s.registry.Len())
	s.health.Start(ctx)

	s.logInfo("miio command service started",
		"devices", s.devices.GetDeviceCount(),
		"types", s.registry.Len(),
	)
	return nil
}

// Stop stops the workers and publishes a final health status. Commands
// still queued are dropped. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logInfo("stopping miio command service")
		s.ctxCancel()
		s.wg.Wait()
		s.health.Stop()
		s.logInfo("miio command service stopped")
	})
}

// SetLogger sets the logger for the service and its health reporter.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
	s.health.SetLogger(logger)
}

// Stats returns a snapshot of command counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Received:      s.received.Load(),
		Succeeded:     s.succeeded.Load(),
		Failed:        s.failed.Load(),
		Indeterminate: s.indeterminate.Load(),
		Rejected:      s.rejected.Load(),
	}
}

// RefreshCounts republishes health after the device set changes.
func (s *Service) RefreshCounts() {
	s.health.SetCounts(s.devices.GetDeviceCount(), s.registry.Len())
	if err := s.health.PublishNow(); err != nil {
		s.logError("failed to publish health", err)
	}
}

// handleCommandMessage decodes and enqueues a command. It never blocks the
// MQTT client's delivery goroutine.
func (s *Service) handleCommandMessage(topic string, payload []byte) {
	s.received.Add(1)

	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[3] == "" {
		s.logDebug("ignoring command on unexpected topic", "topic", topic)
		return
	}

	cmd, err := decodeCommand(parts[3], payload)
	if err != nil {
		s.logError("invalid command", err)
		cmd.DeviceID = parts[3]
		if cmd.ID != "" {
			s.reject(cmd, err)
		}
		return
	}

	select {
	case s.queue <- cmd:
	default:
		s.reject(cmd, ErrBusy)
	}
}

func (s *Service) reject(cmd CommandMessage, err error) {
	s.rejected.Add(1)
	s.publishAck(NewAckError(cmd, err))
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.queue:
			s.execute(cmd)
		}
	}
}

// execute runs one command and publishes its acknowledgment.
func (s *Service) execute(cmd CommandMessage) {
	timeout := s.commandTimeout
	if cmd.TimeoutMS > 0 {
		timeout = time.Duration(cmd.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	d, err := s.devices.GetDevice(ctx, cmd.DeviceID)
	if err != nil {
		s.failed.Add(1)
		s.publishAck(NewAckError(cmd, err))
		return
	}

	result, err := s.invoker.Invoke(ctx, d, cmd.Method, cmd.Args...)
	if err != nil {
		ack := NewAckError(cmd, err)
		if ack.Status == AckIndeterminate {
			s.indeterminate.Add(1)
		} else {
			s.failed.Add(1)
		}
		s.logDebug("command failed", "command_id", cmd.ID, "device_id", cmd.DeviceID, "method", cmd.Method, "error", err)
		s.publishAck(ack)
		return
	}

	s.succeeded.Add(1)
	s.publishAck(NewAckMessage(cmd, result))
}

func (s *Service) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		s.logError("failed to marshal ack", err)
		return
	}
	if err := s.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		s.logError("failed to publish ack", err)
	}
}

// handleRequestMessage answers registry and device listing requests.
func (s *Service) handleRequestMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[3] == "" {
		s.logDebug("ignoring request on unexpected topic", "topic", topic)
		return
	}
	requestID := parts[3]

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		s.publishResponse(requestID, nil, &AckError{Code: ErrCodeInvalidRequest, Message: err.Error()})
		return
	}

	data, aerr := s.answer(req)
	s.publishResponse(requestID, data, aerr)
}

func (s *Service) answer(req RequestMessage) (map[string]any, *AckError) {
	switch req.Action {
	case "list_types":
		return map[string]any{"types": s.registry.ListTypes()}, nil

	case "describe_type":
		t, err := s.registry.Lookup(req.DeviceType)
		if err != nil {
			return nil, &AckError{Code: ErrCodeUnknownDeviceType, Message: err.Error(), Field: "device_type"}
		}
		schema, err := s.registry.SchemaFor(t)
		if err != nil {
			return nil, &AckError{Code: ErrCodeUnknownDeviceType, Message: err.Error(), Field: "device_type"}
		}
		methods := make([]device.MethodSchema, 0, schema.Len())
		for _, name := range schema.Methods() {
			m, _ := schema.Method(name)
			methods = append(methods, m)
		}
		return map[string]any{"type": t, "methods": methods}, nil

	case "list_devices":
		devices := s.devices.ListDevices()
		out := make([]map[string]string, 0, len(devices))
		for _, d := range devices {
			out = append(out, map[string]string{
				"id":          d.ID(),
				"device_type": string(d.Type()),
				"address":     d.Address(),
			})
		}
		return map[string]any{"devices": out}, nil

	default:
		return nil, &AckError{Code: ErrCodeUnsupportedRequest, Message: fmt.Sprintf("unsupported action %q", req.Action)}
	}
}

func (s *Service) publishResponse(requestID string, data map[string]any, aerr *AckError) {
	resp := ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   aerr == nil,
		Data:      data,
		Error:     aerr,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logError("failed to marshal response", err)
		return
	}
	if err := s.mqtt.Publish(ResponseTopic(requestID), payload, 1, false); err != nil {
		s.logError("failed to publish response", err)
	}
}

func (s *Service) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Service) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (s *Service) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
