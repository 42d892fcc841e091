package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds what SmartAuth publishes. Dead-letter envelopes embed
// the original event, which is far smaller.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it
// (QoS 1 and 2) or for the client to flush it (QoS 0).
//
// Wildcards are rejected. A missing acknowledgement within the publish
// timeout is reported as ErrTimeout wrapped in ErrPublishFailed.
//
// Parameters:
//   - topic: Topic name; wildcards are not allowed
//   - payload: Message body, at most 1 MiB
//   - qos: Quality of service (0, 1 or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS, ErrPayloadTooLarge
//     or ErrPublishFailed
//
//	err := client.Publish(mqtt.Topics{}.DeadLetter(), envelope, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopic(topic, false); err != nil {
		return err
	}
	if err := validateQoS(qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w on %s: %w after %v", ErrPublishFailed, topic, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w on %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
