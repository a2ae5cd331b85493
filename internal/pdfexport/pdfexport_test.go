package pdfexport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/layout"
	"github.com/cbegin/scoresync-go/internal/score"
)

func study(bars int) *score.Score {
	s := &score.Score{Title: "Étude", Resolution: 240, Tempo: 100}
	st := &score.Staff{ShowTablature: true, ShowStandardNotation: true}
	for i := 0; i < bars; i++ {
		start := i * 960
		s.MasterBars = append(s.MasterBars, score.MasterBar{Index: i, StartTick: start, Length: 960, Numerator: 4, Denominator: 4})
		b := &score.Beat{StartTick: start, Duration: 960, Notes: []*score.Note{{Key: 67, Step: "G", Octave: 4, String: 1, Fret: 3}}}
		st.Bars = append(st.Bars, &score.Bar{Index: i, StartTick: start, Voices: []*score.Voice{{Beats: []*score.Beat{b}}}})
	}
	s.Tracks = []*score.Track{{Tuning: score.StandardTuning, Staves: []*score.Staff{st}}}
	return s
}

func TestPaginateBreaksBetweenSystems(t *testing.T) {
	l := layout.Build(study(40), 400, layout.NotationStyle)
	require.Greater(t, len(l.Systems), 4)

	h := l.Systems[0].Height * 3
	spans := Paginate(l, h)
	require.Greater(t, len(spans), 1)
	assert.Zero(t, spans[0].Top)
	assert.Equal(t, l.Height, spans[len(spans)-1].Bottom)
	for i, sp := range spans {
		if i > 0 {
			assert.Equal(t, spans[i-1].Bottom, sp.Top)
		}
		// no system straddles a break
		for _, sys := range l.Systems {
			inside := sys.Y >= sp.Top && sys.Y < sp.Bottom
			if inside {
				assert.LessOrEqual(t, sys.Y+sys.Height, sp.Bottom)
			}
		}
	}
}

func TestPaginateSinglePage(t *testing.T) {
	l := layout.Build(study(2), 800, layout.TabStyle)
	spans := Paginate(l, 10000)
	require.Len(t, spans, 1)
	assert.Equal(t, Span{Top: 0, Bottom: l.Height}, spans[0])
	assert.Nil(t, Paginate(nil, 100))
}

func TestWriteProducesPages(t *testing.T) {
	l := layout.Build(study(60), 960, layout.NotationStyle)
	var buf bytes.Buffer
	pages, err := Write(&buf, l, DefaultOptions())
	require.NoError(t, err)
	require.GreaterOrEqual(t, pages, 1)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "/Count ")

	opts := DefaultOptions()
	opts.Orientation = "L"
	var small bytes.Buffer
	more, err := Write(&small, l, opts)
	require.NoError(t, err)
	assert.Greater(t, more, pages)
}

func TestWriteRejectsEmptyLayout(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, layout.Build(nil, 960, layout.TabStyle), DefaultOptions())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRender))
	assert.Zero(t, buf.Len())
}
