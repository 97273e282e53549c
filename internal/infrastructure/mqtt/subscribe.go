package mqtt

import (
	"fmt"
)

// Subscribe registers handler for messages matching filter, which may use
// the + and # wildcards. The subscription is tracked and restored after a
// reconnect. A second Subscribe on the same filter replaces the handler.
//
//	err := client.Subscribe("graylogic/command/miio/+", 1,
//	    func(topic string, payload []byte) error {
//	        return service.enqueue(topic, payload)
//	    })
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Tracked before the broker round trip so a reconnect in between
	// restores it.
	c.subMu.Lock()
	previous, hadPrevious := c.subscriptions[filter]
	c.subscriptions[filter] = subscription{topic: filter, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		if hadPrevious {
			c.subscriptions[filter] = previous
		} else {
			delete(c.subscriptions, filter)
		}
		c.subMu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops a subscription by the exact filter it was made with.
// Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()

	return await(c.client.Unsubscribe(filter), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether filter is tracked. It compares filter
// strings, not topic matches.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[filter]
	return exists
}
