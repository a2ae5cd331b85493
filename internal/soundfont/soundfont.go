// Package soundfont loads SoundFont banks with progress reporting and wraps
// a meltysynth synthesizer as a sequencer target.
package soundfont

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sinshu/go-meltysynth/meltysynth"
)

// ProgressReader reports how much of a stream of known size has been read.
type ProgressReader struct {
	r        io.Reader
	ctx      context.Context
	total    int64
	read     int64
	last     int
	progress func(percent int)
}

func NewProgressReader(ctx context.Context, r io.Reader, total int64, progress func(int)) *ProgressReader {
	return &ProgressReader{r: r, ctx: ctx, total: total, last: -1, progress: progress}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && p.progress != nil {
		// 100 is reported by Load once the bank parsed
		pct := int(p.read * 99 / p.total)
		if pct > 99 {
			pct = 99
		}
		if pct != p.last {
			p.last = pct
			p.progress(pct)
		}
	}
	return n, err
}

// Load reads and parses a bank. progress sees 0..100, with 100 only after
// a successful parse.
func Load(ctx context.Context, r io.Reader, size int64, progress func(int)) (sf *meltysynth.SoundFont, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			sf, err = nil, fmt.Errorf("soundfont is malformed: %v", rec)
		}
	}()
	if progress == nil {
		progress = func(int) {}
	}
	progress(0)
	data, err := io.ReadAll(NewProgressReader(ctx, r, size, progress))
	if err != nil {
		return nil, fmt.Errorf("read soundfont: %w", err)
	}
	sf, err = meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse soundfont: %w", err)
	}
	progress(100)
	return sf, nil
}

// Synth drives a meltysynth synthesizer from sequencer calls.
type Synth struct {
	s *meltysynth.Synthesizer
}

func NewSynth(sf *meltysynth.SoundFont, sampleRate int) (*Synth, error) {
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	s, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	return &Synth{s: s}, nil
}

func (s *Synth) NoteOn(channel, key, velocity int) {
	s.s.ProcessMidiMessage(int32(channel), 0x90, int32(key), int32(velocity))
}

func (s *Synth) NoteOff(channel, key int) {
	s.s.ProcessMidiMessage(int32(channel), 0x80, int32(key), 0)
}

func (s *Synth) ProgramChange(channel, program int) {
	s.s.ProcessMidiMessage(int32(channel), 0xC0, int32(program), 0)
}

func (s *Synth) AllNotesOff() { s.s.NoteOffAll(true) }

func (s *Synth) Render(left, right []float32) { s.s.Render(left, right) }

// MIDILength is the playing time meltysynth computes for an SMF, used to
// cross-check decoded sequences.
func MIDILength(data []byte) (float64, error) {
	mf, err := meltysynth.NewMidiFile(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	return mf.GetLength().Seconds(), nil
}
