package capture

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func wavBytes(pcm []byte, sampleRate int, channels uint16, extra []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(extra)+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, channels)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*int(channels)*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.Write(extra)
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func drain(t *testing.T, src Source) []byte {
	t.Helper()
	var all []byte
	for chunk := range src.Chunks() {
		all = append(all, chunk...)
	}
	return all
}

func TestOpenWAVSkipsUnknownChunks(t *testing.T) {
	pcm := bytes.Repeat([]byte{1, 2}, 500)
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, wavBytes(pcm, 16000, 1, list), 0o644))

	src, err := OpenWAV(path, 160, false)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, 16000, src.SampleRate())
	require.Equal(t, pcm, drain(t, src))
}

func TestOpenWAVRejectsStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	require.NoError(t, os.WriteFile(path, wavBytes(make([]byte, 64), 44100, 2, nil), 0o644))
	_, err := OpenWAV(path, 160, false)
	require.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestOpenWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o644))
	_, err := OpenWAV(path, 160, false)
	require.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestOpenRawChunksAndDropsOddByte(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.raw")
	data := bytes.Repeat([]byte{7}, 801)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := OpenRaw(path, 16000, 160, false)
	require.NoError(t, err)
	defer src.Close()

	var sizes []int
	for chunk := range src.Chunks() {
		sizes = append(sizes, len(chunk))
	}
	require.Equal(t, []int{320, 320, 160}, sizes)
}
