package sequencer

import (
	"testing"

	"github.com/cbegin/scoresync-go/internal/synth"
)

func BenchmarkSequencerProcess(b *testing.B) {
	seq := fourQuarters()
	buf := make([]float32, 2048*2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := New(seq, synth.New(48000, synth.DefaultParams()), 48000)
		s.SetMetronome(1)
		s.Start()
		s.Process(buf)
	}
}
