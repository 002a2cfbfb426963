package streaming

import (
	"testing"

	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_StatusEnvelope(t *testing.T) {
	data, err := Encode(TypeStatus, core.TurretEvent{Pan: 90, Tilt: 45, Firing: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"turret_status","payload":{"pan":90,"tilt":45,"firing":true}}`, string(data))

	e, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, core.TurretEvent{Pan: 90, Tilt: 45, Firing: true}, e)
}

func TestDecodeEvent_Errors(t *testing.T) {
	_, err := DecodeEvent([]byte("nope"))
	assert.Error(t, err)

	data, err := Encode(TypeHello, HelloMessage{ClientID: "abc"})
	require.NoError(t, err)
	_, err = DecodeEvent(data)
	assert.ErrorContains(t, err, "unexpected message type")

	_, err = DecodeEvent([]byte(`{"type":"turret_status","payload":"x"}`))
	assert.Error(t, err)
}

func TestNewEnvelope_Unmarshalable(t *testing.T) {
	_, err := NewEnvelope(TypeControls, make(chan int))
	assert.Error(t, err)
}
