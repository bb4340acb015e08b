package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds a single message (1MB).
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
// Callers choose retained with Topics.Retained; a nil retained payload
// clears the topic.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: %d bytes exceeds %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(c.paho.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers handler for a topic pattern (+ and # allowed).
// Handlers run on paho's goroutines; a panic is recovered and logged.
// The subscription is restored after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := wait(c.paho.Subscribe(topic, qos, c.deliver(handler))); err != nil {
		c.subMu.Lock()
		delete(c.subs, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// resubscribe restores tracked subscriptions on a fresh clean session.
func (c *Client) resubscribe() {
	c.subMu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.subMu.Unlock()

	for topic, s := range subs {
		token := c.paho.Subscribe(topic, s.qos, c.deliver(s.handler))
		go func(topic string) {
			if err := wait(token); err != nil {
				c.log().Error("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging errors and recovering panics.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.log().Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// wait blocks for token up to the publish timeout.
func wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("no acknowledgement within %v", publishTimeout)
	}
	return token.Error()
}
