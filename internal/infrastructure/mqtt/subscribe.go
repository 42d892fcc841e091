package mqtt

import (
	"fmt"
)

// Subscribe registers handler for a topic filter and waits for the SUBACK.
//
// Handlers run on paho's delivery goroutine in arrival order, so a slow
// handler holds back the next message. A message is acked only when its
// handler returns nil. The subscription is remembered and re-issued after
// every reconnect.
//
// Parameters:
//   - topic: Topic filter; + and # must fill a whole level
//   - qos: Maximum QoS for delivered messages
//   - handler: Called once per message; nil acks it
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS or ErrSubscribeFailed
//
//	err := client.Subscribe(mqtt.Topics{}.RegistrationQueue(), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleMessage(ctx, payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateTopic(topic, true); err != nil {
		return err
	}
	if err := validateQoS(qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.remember(subscription{topic: topic, qos: qos, handler: handler})

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w on %s: %w after %v", ErrSubscribeFailed, topic, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w on %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

func (c *Client) remember(sub subscription) {
	c.subMu.Lock()
	c.subscriptions[sub.topic] = sub
	c.subMu.Unlock()
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// HasSubscription reports whether the exact filter string is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
