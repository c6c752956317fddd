package signaling

import (
	"crypto/rand"
	"math/big"
)

// roomIDAlphabet omits I/O/0/1 to reduce confusion when a room code is read
// aloud or typed by hand.
const roomIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomIDLength is the fixed length of every generated RoomId.
const RoomIDLength = 5

// GenerateRoomID returns a random 5-character code drawn from
// roomIDAlphabet. Generation failures (exhausted entropy source) are
// vanishingly unlikely; the caller abandons that start (logged, no
// start_response) rather than proceeding with an under-length room id.
func GenerateRoomID() (string, error) {
	buf := make([]byte, RoomIDLength)
	n := big.NewInt(int64(len(roomIDAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		buf[i] = roomIDAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
