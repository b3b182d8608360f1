// Package integrity verifies page checksums and computes stronger
// fingerprints for pages read off disk. VerifyChecksum reimplements the
// format's own fixed XOR checksum; it is a bit-manipulation the on-disk
// format defines, not a pluggable algorithm, so it stays on the
// standard library rather than reaching for a hash package — there is
// no library that implements this exact scheme. Fingerprint, by
// contrast, is this package's own addition layered on top, so it uses
// a real hash from the ecosystem.
package integrity

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrChecksumMismatch is returned by VerifyChecksum when the page's
// stored checksum does not match the recomputed value.
var ErrChecksumMismatch = errors.New("esedb: page checksum mismatch")

// ErrTruncatedPage is returned when raw is too short to contain a
// checksum field.
var ErrTruncatedPage = errors.New("esedb: page too short for checksum")

// VerifyChecksum recomputes the old-format XOR checksum stored in the
// first four bytes of a page and compares it against the stored value.
// The algorithm folds every remaining little-endian u32 word of the
// page into a running XOR, seeded with the page number so that two
// pages with identical bodies but different numbers still produce
// distinct checksums. New-format (ECC) checksums are not recomputed
// here — this library only flags them as present via newFormat and
// skips verification, since ECC correction is outside read-only
// parsing's scope.
func VerifyChecksum(raw []byte, pageNumber uint32, newFormat bool) error {
	if len(raw) < 4 {
		return fmt.Errorf("esedb: page has %d bytes: %w", len(raw), ErrTruncatedPage)
	}
	if newFormat {
		// ECC checksums require the parity-correction algorithm the
		// format's newer revisions use; this library treats them as
		// opaque and does not attempt to recompute them.
		return nil
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("esedb: page size %d not a multiple of 4: %w", len(raw), ErrTruncatedPage)
	}

	stored := binary.LittleEndian.Uint32(raw[0:4])

	computed := pageNumber
	for offset := 4; offset < len(raw); offset += 4 {
		computed ^= binary.LittleEndian.Uint32(raw[offset : offset+4])
	}

	if computed != stored {
		return fmt.Errorf("esedb: page %d checksum %#x, computed %#x: %w",
			pageNumber, stored, computed, ErrChecksumMismatch)
	}
	return nil
}

// Fingerprint returns a blake2b-256 digest of raw, for callers that
// want a stronger integrity signal than the format's own narrow XOR
// checksum — e.g. comparing two independent reads of the same page
// number to detect silent corruption the on-disk checksum's width
// would miss, mirroring the intent of the page flags' SCRUBBED bit.
func Fingerprint(raw []byte) [32]byte {
	return blake2b.Sum256(raw)
}
