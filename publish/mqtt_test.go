package publish

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/softi2c/acquisition"
)

type token struct {
	err      error
	finished bool
}

func (t *token) Wait() bool { return t.finished }

func (t *token) WaitTimeout(time.Duration) bool { return t.finished }

func (t *token) Done() <-chan struct{} { return nil }

func (t *token) Error() error { return t.err }

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *mockClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func TestPublisher_Publish(t *testing.T) {
	client := &mockClient{}
	snap := acquisition.Snapshot{
		Initialized: true,
		Cycles:      4,
		Failures:    1,
		Readings:    map[string]string{"pressure": "1kPa"},
	}
	done := &token{finished: true}
	client.On("Publish", "lab/pressure", byte(1), true, "1kPa").Return(done).Once()
	client.On("Publish", "lab/status", byte(1), true, mock.Anything).Return(done).Once()
	client.On("Disconnect", uint(250)).Once()

	p := New(client, "lab", WithQoS(1))
	require.NoError(t, p.Publish(snap))
	p.Close()
	client.AssertExpectations(t)

	var status acquisition.Snapshot
	payload := client.Calls[1].Arguments.Get(3).([]byte)
	require.NoError(t, yaml.Unmarshal(payload, &status))
	assert.Equal(t, 4, status.Cycles)
	assert.Equal(t, 1, status.Failures)
	assert.True(t, status.Initialized)
}

func TestPublisher_Errors(t *testing.T) {
	snap := acquisition.Snapshot{Readings: map[string]string{"pressure": "1kPa"}}

	client := &mockClient{}
	client.On("Publish", "lab/pressure", byte(0), true, "1kPa").Return(&token{})
	assert.ErrorIs(t, New(client, "lab").Publish(snap), ErrTimeout)

	client = &mockClient{}
	client.On("Publish", "lab/pressure", byte(0), true, "1kPa").Return(&token{finished: true, err: errors.New("not connected")})
	assert.ErrorContains(t, New(client, "lab").Publish(snap), "not connected")
}

func TestOptions(t *testing.T) {
	c := defaults([]Option{WithClientID("rig-1"), WithQoS(3), WithTimeout(time.Second)})
	assert.Equal(t, "rig-1", c.ClientID)
	assert.Equal(t, byte(0), c.QoS)
	assert.Equal(t, time.Second, c.Timeout)
}
