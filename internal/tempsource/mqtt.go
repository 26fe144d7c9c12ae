package tempsource

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Subscriber delivers raw payloads published on a topic. The returned
// function cancels the subscription.
type Subscriber interface {
	Subscribe(topic string, cb func([]byte)) (func(), error)
}

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker   string // tcp://host:1883 or ssl://host:8883
	Username string
	Password string
	ClientID string
	QoS      byte
}

// MQTTClient fans broker messages out to per-topic callbacks and restores
// subscriptions after a reconnect.
type MQTTClient struct {
	client mqtt.Client
	qos    byte
	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

// DialMQTT connects to the broker.
func DialMQTT(cfg MQTTConfig) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "openfan-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	mc := &MQTTClient{qos: cfg.QoS, subs: make(map[string]map[int]func([]byte))}
	opts.SetDefaultPublishHandler(mc.dispatch)
	// OnConnect may fire before Connect returns
	opts.OnConnect = mc.resubscribeAll
	mc.client = mqtt.NewClient(opts)
	if token := mc.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return mc, nil
}

func (c *MQTTClient) Subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.client.Subscribe(topic, c.qos, nil); token.Wait() && token.Error() != nil {
			c.mu.Lock()
			delete(c.subs[topic], id)
			c.mu.Unlock()
			return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		shouldUnsub := len(callbacks) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}

func (c *MQTTClient) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *MQTTClient) resubscribeAll(client mqtt.Client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		_ = client.Subscribe(topic, c.qos, nil).Wait()
	}
}
