package session

import (
	"crypto/rand"
	"math/big"
)

const (
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength  = 4
)

// GenerateRoomCode produces a 4-character uppercase alphanumeric room code
// from a uniform random source. No uniqueness is guaranteed here; the
// rendezvous layer is the collision arbiter (a Listen on a taken identity
// fails and the caller regenerates).
func GenerateRoomCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}
