package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dkeye/Relay/internal/capture"
	"github.com/dkeye/Relay/internal/protocol"
)

type streamFlags struct {
	opts         capture.Options
	input        string
	device       string
	rate         int
	chunkSamples int
	fast         bool
	partials     bool
}

func NewStreamCmd(deps *Dependencies) *cobra.Command {
	f := &streamFlags{}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream audio to the relay",
		Long: "Stream audio to the relay until a final transcript arrives or Ctrl+C.\n" +
			"Without --input the default microphone is used. --input accepts a .wav file,\n" +
			"a raw s16le mono file, or - for raw PCM on stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.opts.MeetingID == "" || f.opts.SpeakerID == "" {
				return errors.New("--meeting and --speaker are required")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runStream(ctx, deps, f)
		},
	}

	cmd.Flags().StringVar(&f.opts.URL, "url", "ws://localhost:3000/ws", "Relay WebSocket URL")
	cmd.Flags().StringVarP(&f.opts.MeetingID, "meeting", "m", "", "Meeting id")
	cmd.Flags().StringVarP(&f.opts.SpeakerID, "speaker", "s", "", "Speaker id")
	cmd.Flags().StringVar(&f.opts.Role, "role", "participant", "Role (host or participant)")
	cmd.Flags().DurationVar(&f.opts.ReconnectDelay, "reconnect-delay", capture.DefaultReconnectDelay, "Delay before reconnecting after an abnormal close")
	cmd.Flags().DurationVar(&f.opts.PingInterval, "ping", capture.DefaultPingInterval, "Application ping interval")
	cmd.Flags().DurationVar(&f.opts.FinalWait, "final-wait", capture.DefaultFinalWait, "How long to wait for the final transcript after the input ends")
	cmd.Flags().IntVar(&f.opts.MaxReconnects, "max-reconnects", 0, "Give up after this many reconnects (0 = never)")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "Audio file (.wav or raw s16le), - for stdin")
	cmd.Flags().StringVar(&f.device, "device", "", "Pulse source id for microphone capture")
	cmd.Flags().IntVar(&f.rate, "rate", capture.TargetSampleRate, "Sample rate of raw input or microphone capture")
	cmd.Flags().IntVar(&f.chunkSamples, "chunk", capture.DefaultChunkSamples, "Samples per audio frame")
	cmd.Flags().BoolVar(&f.fast, "fast", false, "Send file input as fast as possible instead of in real time")
	cmd.Flags().BoolVar(&f.partials, "partials", true, "Print partial transcripts")

	return cmd
}

func runStream(ctx context.Context, deps *Dependencies, f *streamFlags) error {
	src, err := openSource(ctx, f)
	if err != nil {
		return err
	}
	defer src.Close()

	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	client := capture.NewClient(f.opts, func(tr protocol.Transcription) {
		printTranscript(out, tr, f.partials)
	})
	return client.Run(ctx, src)
}

func openSource(ctx context.Context, f *streamFlags) (capture.Source, error) {
	switch {
	case f.input == "":
		return capture.OpenMic(ctx, f.device, f.rate, f.chunkSamples)
	case strings.EqualFold(filepath.Ext(f.input), ".wav"):
		return capture.OpenWAV(f.input, f.chunkSamples, !f.fast)
	default:
		return capture.OpenRaw(f.input, f.rate, f.chunkSamples, !f.fast && f.input != "-")
	}
}

func printTranscript(w io.Writer, tr protocol.Transcription, partials bool) {
	if !tr.IsFinal && !partials {
		return
	}
	marker := "…"
	if tr.IsFinal {
		marker = "✓"
	}
	fmt.Fprintf(w, "%s [%s/%s] %s\n", marker, tr.MeetingID, tr.SpeakerID, tr.Text)
}
