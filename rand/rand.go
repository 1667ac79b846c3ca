package rand

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// GenerateCryptoSafeRandomDataN returns a slice of bytes of length n, filled with cryptographically-safe random data.
func GenerateCryptoSafeRandomDataN(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := GenerateCryptoSafeRandomData(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateCryptoSafeRandomData fills b with cryptographically-safe random data.
func GenerateCryptoSafeRandomData(b []byte) error {
	_, err := cryptoRand.Read(b)
	return err
}

// GenerateUuid returns a UUID in string format (including hyphens).
func GenerateUuid() string {
	return uuid.NewString()
}

// ClientChallenge returns a random 32 bit value formatted as 8 lowercase hex digits, as used by the
// adobe authentication handshake.
func ClientChallenge() (string, error) {
	b, err := GenerateCryptoSafeRandomDataN(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x", binary.BigEndian.Uint32(b)), nil
}
