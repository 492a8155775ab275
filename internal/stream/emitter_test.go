package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []Frame
	err    error
	closed bool
}

func (r *recordingEmitter) Emit(event, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, Frame{Event: event, Data: payload})
	return nil
}

func (r *recordingEmitter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	rec := &recordingEmitter{}
	p := NewPublisher(rec, "")

	payload, err := p.Publish([]float32{1.0, 2.5}, []float32{0.1, -0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, "1.0,2.5#0.1,-0.2,0.3$", payload)
	require.Len(t, rec.events, 1)
	assert.Equal(t, Frame{Event: "animation_data", Data: payload}, rec.events[0])
	assert.Equal(t, PublisherStats{Sent: 1}, p.Stats())

	rec.err = ErrNotConnected
	_, err = p.Publish([]float32{1}, []float32{0, 0, 0})
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Equal(t, PublisherStats{Sent: 1, Dropped: 1}, p.Stats())

	require.NoError(t, p.Close())
	assert.True(t, rec.closed)
}

func TestMulti(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{err: errors.New("b down")}
	m := Multi{a, b}

	err := m.Emit("x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b down")
	assert.Len(t, a.events, 1, "a failing emitter must not stop the others")

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

// fakeToken satisfies mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	d := make(chan struct{})
	close(d)
	return &fakeToken{err: err, done: d}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	open         bool
	publishErr   error
	published    map[string][]string
	disconnected bool
}

func (f *fakeMQTT) IsConnectionOpen() bool { return f.open }

func (f *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	if f.published == nil {
		f.published = map[string][]string{}
	}
	f.published[topic] = append(f.published[topic], payload.(string))
	return newFakeToken(f.publishErr)
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func TestMQTTEmitter(t *testing.T) {
	client := &fakeMQTT{open: true}
	e := NewMQTTEmitter(client, map[string]string{EventAnimation: "pose/animation_data"})

	require.NoError(t, e.Emit(EventAnimation, "1.0#0.0,0.0,0.0$"))
	assert.Equal(t, []string{"1.0#0.0,0.0,0.0$"}, client.published["pose/animation_data"])

	err := e.Emit("status", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mqtt topic")

	client.publishErr = errors.New("broker said no")
	err = e.Emit(EventAnimation, "x")
	assert.ErrorContains(t, err, "broker said no")

	client.open = false
	assert.True(t, errors.Is(e.Emit(EventAnimation, "x"), ErrNotConnected))

	require.NoError(t, e.Close())
	assert.True(t, client.disconnected)
}
