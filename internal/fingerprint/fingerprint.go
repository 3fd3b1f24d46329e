// Package fingerprint derives stable content fingerprints from raw file bytes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
)

// SampleCount is the number of evenly spaced bytes the fallback hash reads.
const SampleCount = 1024

// Fingerprint identifies file content. It never depends on the file name or path.
type Fingerprint string

// Hasher computes fingerprints. The zero value uses sha256.
type Hasher struct {
	// newDigest returns the cryptographic digest. Nil means sha256.
	newDigest func() hash.Hash
}

// New returns a Hasher using sha256.
func New() *Hasher {
	return &Hasher{newDigest: sha256.New}
}

// Fingerprint returns the fingerprint of data. If the digest primitive is
// unavailable or fails, it silently falls back to a sampled hash.
func (h *Hasher) Fingerprint(data []byte) Fingerprint {
	if fp, ok := h.digest(data); ok {
		return fp
	}
	return Sampled(data)
}

func (h *Hasher) digest(data []byte) (fp Fingerprint, ok bool) {
	newDigest := sha256.New
	if h != nil && h.newDigest != nil {
		newDigest = h.newDigest
	}

	defer func() {
		if r := recover(); r != nil {
			fp, ok = "", false
		}
	}()

	d := newDigest()
	if d == nil {
		return "", false
	}
	if _, err := d.Write(data); err != nil {
		return "", false
	}
	return Fingerprint(hex.EncodeToString(d.Sum(nil))), true
}

// Sampled computes the fallback fingerprint: xxhash64 over SampleCount evenly
// spaced bytes, seeded with the total length so that prefixes of the same
// content never collide.
func Sampled(data []byte) Fingerprint {
	n := len(data)

	d := xxhash.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
	_, _ = d.Write(lenBuf[:])

	if n <= SampleCount {
		_, _ = d.Write(data)
	} else {
		sample := make([]byte, SampleCount)
		step := float64(n) / float64(SampleCount)
		for i := range sample {
			sample[i] = data[int(float64(i)*step)]
		}
		// The last byte is always part of the sample.
		sample[SampleCount-1] = data[n-1]
		_, _ = d.Write(sample)
	}

	return Fingerprint(fmt.Sprintf("fb-%x-%016x", n, d.Sum64()))
}

// IsSampled reports whether fp was produced by the fallback hash.
func (fp Fingerprint) IsSampled() bool {
	return len(fp) > 3 && fp[:3] == "fb-"
}

// Short returns an abbreviated form for display.
func (fp Fingerprint) Short() string {
	if len(fp) > 12 {
		return string(fp[:12])
	}
	return string(fp)
}
