package compress

import (
	"github.com/klauspost/compress/zstd"
)

// Encoding is the Content-Encoding token destinations see on
// compressed deliveries.
const Encoding = "zstd"

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	// Errors are only possible with invalid options; the defaults
	// used here cannot fail.
	encoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	decoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1))
}

// Compress returns the zstd-compressed form of b and true, or the
// original bytes and false when compression would not reduce size.
// Compression is an optimization, never a failure source: anything
// unexpected falls back to the uncompressed payload.
func Compress(b []byte) ([]byte, bool) {
	if len(b) == 0 || encoder == nil {
		return b, false
	}

	out := encoder.EncodeAll(b, make([]byte, 0, len(b)))
	if len(out) >= len(b) {
		return b, false
	}
	return out, true
}

// Decompress reverses Compress for payloads sent with the compressed
// flag set.
func Decompress(b []byte) ([]byte, error) {
	return decoder.DecodeAll(b, nil)
}
