package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// maxClockSkew is how far a signed message timestamp may be from now.
const maxClockSkew = 5 * time.Minute

var ErrInvalidSignature = errors.New("invalid message signature")

// Signer signs queue messages with HMAC-SHA256 so consumers sharing the
// key can tell bridge output from anything else pushed onto the list.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner returns a signer for key, or nil when key is empty
func NewSigner(key string) *Signer {
	if key == "" {
		return nil
	}
	return &Signer{key: []byte(key), now: time.Now}
}

// Sign stamps message with a signature over its id, type, device,
// timestamp and data. Retries is not covered so re-queued messages keep
// their signature.
func (s *Signer) Sign(message *Message) error {
	if message.Timestamp.IsZero() {
		message.Timestamp = s.now()
	}
	signature, err := s.signature(message)
	if err != nil {
		return err
	}
	message.Signature = signature
	return nil
}

// Verify checks the signature and that the timestamp is within the
// accepted clock skew.
func (s *Signer) Verify(message *Message) error {
	if message.Signature == "" {
		return fmt.Errorf("%w: missing", ErrInvalidSignature)
	}

	skew := s.now().Sub(message.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return fmt.Errorf("%w: timestamp outside acceptable range", ErrInvalidSignature)
	}

	expected, err := s.signature(message)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(message.Signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) signature(message *Message) (string, error) {
	data, err := json.Marshal(message.Data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message data: %w", err)
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(message.ID))
	mac.Write([]byte(message.Type))
	mac.Write([]byte(message.DeviceID))
	mac.Write([]byte(strconv.FormatInt(message.Timestamp.UnixNano(), 10)))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
