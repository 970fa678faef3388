package archive

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// digestKey is the BLAKE3 key for archive digests. The bytes are the ASCII
// domain name, zero-padded to 32 bytes.
var digestKey = [32]byte{
	'p', 'a', 'c', 'k', 'd', 'e', 'l', 'i', 'v', 'e', 'r', 'y', '.', 'u', 'n', 'i',
	't', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the hex keyed BLAKE3 digest of everything read from r.
func Digest(r io.Reader) (string, int64, error) {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestFile returns the digest and size of the file at path.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	d, n, err := Digest(f)
	if err != nil {
		return "", 0, fmt.Errorf("digest %s: %w", path, err)
	}
	return d, n, nil
}
