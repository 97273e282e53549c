package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
// The topic must not contain wildcards.
//
// Acks and request responses go out at QoS 1 and are not retained; the
// bridge health topic is retained so late subscribers see the last status.
//
//	err := client.Publish("graylogic/ack/miio/desk-plug", ack, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// await waits for a paho token and wraps a timeout or broker error in op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", op, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

// validatePublishTopic rejects empty topics and topics with wildcards.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateFilter checks MQTT topic filter syntax: "+" must fill a whole
// level and "#" must be the whole last level.
func validateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: %q has # before the last level", ErrInvalidTopic, filter)
		case level != "+" && level != "#" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q has a wildcard inside level %q", ErrInvalidTopic, filter, level)
		}
	}
	return nil
}
