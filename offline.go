package scoresync

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/midigen"
	"github.com/cbegin/scoresync-go/internal/musicxml"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/cbegin/scoresync-go/internal/sequencer"
	"github.com/cbegin/scoresync-go/internal/synth"
)

// RenderOptions controls offline rendering.
type RenderOptions struct {
	SampleRate int
	Tempo      float64 // 0 keeps the score's tempo
	Metronome  bool
	Program    int     // -1 keeps the score's instruments
	Tail       float64 // seconds of ring-out after the last note
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{SampleRate: 44100, Program: -1, Tail: 1}
}

// RenderSamples plays s through the plucked-string synth faster than real
// time and returns interleaved stereo samples.
func RenderSamples(s *score.Score, opts RenderOptions) ([]float32, error) {
	if s == nil {
		return nil, errors.New("no score")
	}
	if opts.SampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if opts.Program >= 0 {
		s.SetInstrument(opts.Program)
	}
	seq := midigen.FromScore(s)
	speed := 1.0
	if opts.Tempo > 0 {
		speed = opts.Tempo / s.OriginalTempo()
	}
	p := synth.New(opts.SampleRate, synth.DefaultParams())
	ended := false
	sq := sequencer.NewWithOptions(seq, p, opts.SampleRate, sequencer.Options{
		OnEvent: func(k sequencer.EventKind) { ended = ended || k == sequencer.EventPlaybackEnded },
	})
	sq.SetSpeed(speed)
	if opts.Metronome {
		sq.SetMetronome(1)
	}
	sq.Start()

	frames := int(math.Ceil((seq.Duration()/speed + math.Max(0, opts.Tail)) * float64(opts.SampleRate)))
	out := make([]float32, frames*2)
	const block = 1024
	for off := 0; off < len(out); off += block * 2 {
		end := off + block*2
		if end > len(out) {
			end = len(out)
		}
		if !ended {
			sq.Process(out[off:end])
			continue
		}
		// after the end the sequencer is silent; let the voices ring out
		buf := out[off:end]
		l := make([]float32, len(buf)/2)
		r := make([]float32, len(buf)/2)
		p.Render(l, r)
		for i := range l {
			buf[2*i], buf[2*i+1] = l[i], r[i]
		}
	}
	return out, nil
}

// RenderScoreData parses MusicXML (or .mxl) bytes and renders them.
func RenderScoreData(data []byte, opts RenderOptions) ([]float32, error) {
	s, err := musicxml.Parse(data)
	if err != nil {
		return nil, err
	}
	return RenderSamples(s, opts)
}

type wavHeader struct {
	Riff          [4]byte
	ChunkSize     uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV writes interleaved float samples as 16-bit PCM.
func WriteWAV(w io.Writer, samples []float32, sampleRate, channels int) error {
	dataSize := uint32(len(samples) * 2)
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 2),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return errs.Render(err, "write wav header", "The audio file could not be written.")
	}
	pcm := make([]int16, len(samples))
	for i, v := range samples {
		v = float32(math.Max(-1, math.Min(1, float64(v))))
		pcm[i] = int16(math.Round(float64(v) * math.MaxInt16))
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return errs.Render(err, "write wav data", "The audio file could not be written.")
	}
	return nil
}
