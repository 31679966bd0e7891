// ABOUTME: Audio type definitions
// ABOUTME: Defines raw PCM sample formats and byte/sample conversion
package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes a raw PCM stream
type Format struct {
	SampleRate int
	BitDepth   int // 8 (unsigned) or 16 (signed)
	Channels   int
	BigEndian  bool
}

// FrameSize returns the number of bytes in one interleaved sample frame
func (f Format) FrameSize() int {
	return (f.BitDepth / 8) * f.Channels
}

// BytesPerSecond returns the raw data rate of the format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Whole rounds n down to a whole number of frames
func (f Format) Whole(n int) int {
	fs := f.FrameSize()
	if fs <= 0 {
		return 0
	}
	return n - n%fs
}

func (f Format) String() string {
	endian := "le"
	if f.BigEndian {
		endian = "be"
	}
	return fmt.Sprintf("%dHz/%dbit/%dch/%s", f.SampleRate, f.BitDepth, f.Channels, endian)
}

// ToInt16 converts raw PCM bytes into interleaved int16 samples.
// Only whole frames are converted; trailing bytes are ignored.
// dst must hold at least len(src)/(BitDepth/8) samples.
// Returns the number of samples written to dst.
func ToInt16(dst []int16, src []byte, f Format) int {
	src = src[:f.Whole(len(src))]

	switch f.BitDepth {
	case 8:
		// 8-bit PCM is unsigned, centered on 128
		for i, b := range src {
			dst[i] = int16(int(b)-128) << 8
		}
		return len(src)
	case 16:
		n := len(src) / 2
		if f.BigEndian {
			for i := 0; i < n; i++ {
				dst[i] = int16(binary.BigEndian.Uint16(src[i*2:]))
			}
		} else {
			for i := 0; i < n; i++ {
				dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
			}
		}
		return n
	}
	return 0
}

// Int16ToBytes packs int16 samples as 16-bit PCM.
// dst must hold at least 2*len(src) bytes.
func Int16ToBytes(dst []byte, src []int16, bigEndian bool) int {
	if bigEndian {
		for i, s := range src {
			binary.BigEndian.PutUint16(dst[i*2:], uint16(s))
		}
	} else {
		for i, s := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
		}
	}
	return len(src) * 2
}
