package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrUnsupportedWAV = errors.New("unsupported wav")

// Source produces s16le mono PCM chunks. Finite sources close Chunks at end of input.
type Source interface {
	SampleRate() int
	Chunks() <-chan []byte
	Close() error
}

type readerSource struct {
	r          io.ReadCloser
	rate       int
	chunkBytes int
	realtime   bool

	chunks chan []byte
	stop   chan struct{}
	once   sync.Once
}

func newReaderSource(r io.ReadCloser, rate, chunkSamples int, realtime bool) *readerSource {
	if chunkSamples <= 0 {
		chunkSamples = DefaultChunkSamples
	}
	s := &readerSource{
		r:          r,
		rate:       rate,
		chunkBytes: chunkSamples * bytesPerSample,
		realtime:   realtime,
		chunks:     make(chan []byte, 8),
		stop:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *readerSource) SampleRate() int        { return s.rate }
func (s *readerSource) Chunks() <-chan []byte { return s.chunks }

func (s *readerSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.r.Close()
	})
	return err
}

func (s *readerSource) run() {
	defer close(s.chunks)

	var pace <-chan time.Time
	if s.realtime && s.rate > 0 {
		t := time.NewTicker(time.Duration(ChunkDuration(s.chunkBytes, s.rate) * float64(time.Second)))
		defer t.Stop()
		pace = t.C
	}

	for {
		buf := make([]byte, s.chunkBytes)
		n, err := io.ReadFull(s.r, buf)
		n -= n % bytesPerSample
		if n > 0 {
			if pace != nil {
				select {
				case <-pace:
				case <-s.stop:
					return
				}
			}
			select {
			case s.chunks <- buf[:n]:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case <-s.stop:
				default:
					log.Error().Err(err).Str("module", "capture.source").Msg("read failed")
				}
			}
			return
		}
	}
}

// OpenRaw streams headerless s16le mono PCM from path ("-" for stdin).
func OpenRaw(path string, rate, chunkSamples int, realtime bool) (Source, error) {
	var r io.ReadCloser = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open raw pcm: %w", err)
		}
		r = f
	}
	return newReaderSource(r, rate, chunkSamples, realtime), nil
}

// OpenWAV streams the data chunk of a 16-bit mono PCM wav file.
func OpenWAV(path string, chunkSamples int, realtime bool) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	format, err := readWAVHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return newReaderSource(f, format.SampleRate, chunkSamples, realtime), nil
}

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    int
	BitsPerSample uint16
}

// readWAVHeader consumes the RIFF header up to the start of the data chunk.
func readWAVHeader(r io.Reader) (wavFormat, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavFormat{}, fmt.Errorf("%w: short header", ErrUnsupportedWAV)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavFormat{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedWAV)
	}

	var (
		format  wavFormat
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return wavFormat{}, fmt.Errorf("%w: missing data chunk", ErrUnsupportedWAV)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return wavFormat{}, fmt.Errorf("%w: fmt chunk too small", ErrUnsupportedWAV)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavFormat{}, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedWAV)
			}
			format = wavFormat{
				AudioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				Channels:      binary.LittleEndian.Uint16(body[2:4]),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return wavFormat{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedWAV)
			}
			if format.AudioFormat != 1 || format.BitsPerSample != 16 || format.Channels != 1 {
				return wavFormat{}, fmt.Errorf("%w: need 16-bit mono PCM, got format=%d bits=%d channels=%d",
					ErrUnsupportedWAV, format.AudioFormat, format.BitsPerSample, format.Channels)
			}
			return format, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return wavFormat{}, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedWAV, id)
			}
		}
	}
}
