package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog/log"
)

// Device is one Pulse input source.
type Device struct {
	ID          string
	Description string
	Muted       bool
	Default     bool
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("relay-capture"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns the Pulse input sources.
func ListDevices() ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			Muted:       info.Mute,
			Default:     info.SourceName == defaultSource.ID(),
		})
	}
	return devices, nil
}

// Mic records float32 mono audio from Pulse and emits s16le chunks.
// Chunks are dropped while the consumer is not keeping up.
type Mic struct {
	client *pulse.Client
	stream *pulse.RecordStream
	rate   int

	chunkSamples int
	chunks       chan []byte
	stopCh       chan struct{}

	mu      sync.Mutex
	pending []float32
	tail    []byte
	stopped bool

	inflight sync.WaitGroup
	dropped  atomic.Int64
}

// OpenMic starts recording from device, or the default source when device is empty.
func OpenMic(ctx context.Context, device string, rate, chunkSamples int) (*Mic, error) {
	if rate <= 0 {
		rate = TargetSampleRate
	}
	if chunkSamples <= 0 {
		chunkSamples = DefaultChunkSamples
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	var source *pulse.Source
	if device == "" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(device)
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device, err)
	}

	m := &Mic{
		client:       client,
		rate:         rate,
		chunkSamples: chunkSamples,
		chunks:       make(chan []byte, 32),
		stopCh:       make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(m.onPCM), pulseproto.FormatFloat32LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(rate),
		pulse.RecordMediaName("relay capture"),
	)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	m.stream = stream
	stream.Start()
	log.Info().Str("module", "capture.mic").Str("source", source.ID()).Int("rate", rate).Msg("recording")

	go func() {
		select {
		case <-ctx.Done():
			_ = m.Close()
		case <-m.stopCh:
		}
	}()
	return m, nil
}

func (m *Mic) SampleRate() int        { return m.rate }
func (m *Mic) Chunks() <-chan []byte { return m.chunks }
func (m *Mic) Dropped() int64         { return m.dropped.Load() }

func (m *Mic) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
	}
	if m.client != nil {
		m.client.Close()
	}
	m.inflight.Wait()
	close(m.chunks)
	return nil
}

func (m *Mic) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0, io.EOF
	}
	m.inflight.Add(1)
	defer m.inflight.Done()

	data := append(m.tail, buffer...)
	whole := len(data) - len(data)%4
	m.tail = append([]byte(nil), data[whole:]...)
	m.pending = append(m.pending, decodeF32LE(data[:whole])...)

	var out [][]byte
	for len(m.pending) >= m.chunkSamples {
		out = append(out, EncodeS16LE(m.pending[:m.chunkSamples]))
		m.pending = m.pending[m.chunkSamples:]
	}
	m.mu.Unlock()

	for _, chunk := range out {
		select {
		case m.chunks <- chunk:
		default:
			m.dropped.Add(1)
		}
	}
	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
