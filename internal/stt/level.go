package stt

import (
	"encoding/binary"
	"math"
)

// Level returns the RMS energy of a 16-bit little-endian PCM frame scaled to
// the 0..1 range. A trailing odd byte is ignored.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}

	return math.Min(math.Sqrt(sum/float64(n))/32768, 1)
}
