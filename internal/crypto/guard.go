package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// guardAlphabet is the venue's 26-symbol code alphabet.
const guardAlphabet = "23456789BCDFGHJKMNPQRTVWXY"

const (
	guardPeriod  = 30
	guardCodeLen = 5
)

// GuardCode derives the five-character login code for sharedSecret (base64)
// at time t: HMAC-SHA1 over the 30 second counter, dynamically truncated,
// then spelled in guardAlphabet.
func GuardCode(sharedSecret string, t time.Time) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding shared secret: %w", err)
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(t.Unix()/guardPeriod))

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	full := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := make([]byte, guardCodeLen)
	for i := range code {
		code[i] = guardAlphabet[full%uint32(len(guardAlphabet))]
		full /= uint32(len(guardAlphabet))
	}
	return string(code), nil
}
