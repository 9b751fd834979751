package mqtt

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// stuckToken never completes, like a publish to an unreachable broker.
type stuckToken struct{}

func (stuckToken) Wait() bool {
	select {}
}

func (stuckToken) WaitTimeout(d time.Duration) bool {
	time.Sleep(d)
	return false
}

func (stuckToken) Done() <-chan struct{} { return make(chan struct{}) }
func (stuckToken) Error() error          { return nil }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu          sync.Mutex
	published   []published
	handlers    map[string]paho.MessageHandler
	unsubscribe []string
	publishErr  error
	onPublish   func(topic string, payload []byte)
	stuckTopic  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]paho.MessageHandler)}
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	body, _ := payload.([]byte)
	f.mu.Lock()
	f.published = append(f.published, published{topic: topic, payload: body})
	hook := f.onPublish
	err := f.publishErr
	stuck := f.stuckTopic
	f.mu.Unlock()
	if hook != nil {
		hook(topic, body)
	}
	if stuck != "" && topic == stuck {
		return stuckToken{}
	}
	return doneToken{err: err}
}

func (f *fakeClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return doneToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
		f.unsubscribe = append(f.unsubscribe, topic)
	}
	return doneToken{}
}

// deliver routes a message to the handler whose filter matches topic.
func (f *fakeClient) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	var handler paho.MessageHandler
	for filter, h := range f.handlers {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	f.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(nil, &fakeMessage{topic: topic, payload: payload})
	return true
}

func (f *fakeClient) snapshotPublished() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
