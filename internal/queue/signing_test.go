package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(key string, now time.Time) *Signer {
	s := NewSigner(key)
	s.now = func() time.Time { return now }
	return s
}

func TestNewSignerWithoutKey(t *testing.T) {
	assert.Nil(t, NewSigner(""))
}

func TestSignAndVerify(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 123, time.UTC)
	signer := fixedSigner("shared-secret", now)

	message := &Message{
		ID:       "m1",
		Type:     TypePunch,
		DeviceID: "front",
		Data:     map[string]interface{}{"employee_code": 42, "direction": "check-in"},
	}
	require.NoError(t, signer.Sign(message))
	assert.Equal(t, now, message.Timestamp)
	assert.Len(t, message.Signature, 64)

	// survives the JSON round trip through Redis
	raw, err := json.Marshal(message)
	require.NoError(t, err)
	var received Message
	require.NoError(t, json.Unmarshal(raw, &received))
	assert.NoError(t, signer.Verify(&received))

	received.Retries = 2
	assert.NoError(t, signer.Verify(&received), "retries are not signed")
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	signer := fixedSigner("shared-secret", now)

	signed := func() *Message {
		m := &Message{ID: "m1", Type: TypeSyncResult, DeviceID: "front", Data: map[string]interface{}{"users": 2}}
		require.NoError(t, signer.Sign(m))
		return m
	}

	tests := []struct {
		name   string
		mutate func(m *Message) *Signer
	}{
		{"missing signature", func(m *Message) *Signer { m.Signature = ""; return signer }},
		{"tampered data", func(m *Message) *Signer { m.Data["users"] = 3; return signer }},
		{"tampered device", func(m *Message) *Signer { m.DeviceID = "back"; return signer }},
		{"wrong key", func(m *Message) *Signer { return fixedSigner("other-secret", now) }},
		{"stale", func(m *Message) *Signer { return fixedSigner("shared-secret", now.Add(10*time.Minute)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := signed()
			verifier := tt.mutate(m)
			assert.ErrorIs(t, verifier.Verify(m), ErrInvalidSignature)
		})
	}
}
