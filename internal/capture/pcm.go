// Package capture is the streaming client: it reads PCM from a source and
// relays it to the server, reconnecting while the user still wants audio sent.
package capture

import (
	"encoding/binary"
	"math"
)

const (
	TargetSampleRate    = 16000
	DefaultChunkSamples = 4096
	bytesPerSample      = 2
)

// EncodeS16LE converts float samples to signed 16-bit little-endian PCM.
// Samples are clamped to [-1, 1]; negative values scale by 0x8000, positive by 0x7FFF.
func EncodeS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(floatToS16(s)))
	}
	return out
}

func floatToS16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// decodeF32LE reads little-endian float32 samples; a trailing partial sample is ignored.
func decodeF32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// ChunkDuration is the playback time of one chunk of s16le mono PCM.
func ChunkDuration(chunkBytes, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(chunkBytes/bytesPerSample) / float64(sampleRate)
}
