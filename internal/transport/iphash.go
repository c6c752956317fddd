package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// HashIP derives a stable, non-reversible label for a client IP using a
// server-held salt. Used only for the num_connected_clients metric so that raw
// IPs never end up in Prometheus labels.
func HashIP(ip net.IP, salt []byte) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(ip.String()))
	return hex.EncodeToString(h.Sum(nil))
}
