// Package peerid generates this client's 20-byte BitTorrent peer id.
package peerid

import "crypto/rand"

const prefix = "RB01-"

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a fresh peer id: the 5-byte prefix "RB01-" followed by
// 15 random alphanumeric bytes.
func Generate() [20]byte {
	var id [20]byte
	copy(id[:], prefix)

	buf := make([]byte, 20-len(prefix))
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unavailable, which leaves the process unable to do anything
		// useful anyway.
		panic(err)
	}
	for i, b := range buf {
		id[len(prefix)+i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return id
}
