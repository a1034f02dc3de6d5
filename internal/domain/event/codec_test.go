package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-relay-service/internal/domain/model"
)

func TestDecodeChat(t *testing.T) {
	frame := []byte(`{"type":"chat","sender_id":1,"receiver_id":"2","message":"hi","uuid":"abc","created_at":"t0"}`)

	in, err := Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, KindChat, in.Type)
	require.NotNil(t, in.SenderID)
	require.NotNil(t, in.ReceiverID)
	assert.Equal(t, model.UserID(1), *in.SenderID)
	assert.Equal(t, model.UserID(2), *in.ReceiverID, "numeric strings are accepted")
	require.NotNil(t, in.Message)
	assert.Equal(t, "hi", *in.Message)
	assert.Equal(t, "abc", in.UUID)
	assert.Equal(t, "t0", in.CreatedAt)
	assert.Nil(t, in.File)
}

func TestDecodeNullMessageIsPresent(t *testing.T) {
	in, err := Decode([]byte(`{"type":"chat","message":null}`))
	require.NoError(t, err)

	assert.Nil(t, in.Message)
	assert.True(t, in.Has("message"))
	assert.False(t, in.Has("uuid"))
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"type":`,
		"array envelope":   `[1,2]`,
		"missing type":     `{"sender_id":1}`,
		"numeric type":     `{"type":5}`,
		"empty type":       `{"type":""}`,
		"bad user id":      `{"type":"typing","sender_id":"abc"}`,
		"wrong value type": `{"type":"chat","message":12}`,
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestEncodeStampsEnvelope(t *testing.T) {
	msg := "hi"
	data, err := Encode(&ChatDelivery{
		ID:         7,
		SenderID:   1,
		ReceiverID: 2,
		Message:    &msg,
		UUID:       "abc",
		Status:     model.ChatStatusSent,
		CreatedAt:  "t0",
	}, "m-1")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "chat", got["type"])
	assert.Equal(t, "m-1", got["message_id"])
	assert.Equal(t, "hi", got["message"])
	assert.Equal(t, "abc", got["uuid"])
	assert.EqualValues(t, 7, got["id"])
	assert.EqualValues(t, 2, got["receiver_id"])
	assert.Contains(t, got, "image")
	assert.Nil(t, got["image"])
}

func TestEncodeIndicatorUsesItsKind(t *testing.T) {
	data, err := Encode(&Indicator{Kind: KindBlur, SenderID: 4}, "m-2")
	require.NoError(t, err)

	assert.JSONEq(t, `{"sender_id":4,"type":"blur","message_id":"m-2"}`, string(data))
}

func TestEncodePongHasNoMessageID(t *testing.T) {
	data, err := Encode(Pong{}, "")
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestEncodeNil(t *testing.T) {
	_, err := Encode(nil, "x")
	assert.Error(t, err)
}

func TestExportRoutingKeys(t *testing.T) {
	assert.Equal(t, "im_relay.v1.2.chat.created", NewChatCreated(&model.PersistedChat{ReceiverID: 2}).GetRoutingKey())
	assert.Equal(t, "", (&ChatCreated{}).GetRoutingKey())
	assert.Equal(t, "im_relay.v1.9.user.status", NewPresenceChanged(9, model.StatusOnline).GetRoutingKey())
}
