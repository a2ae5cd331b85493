package musicxml

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadEtude(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "etude.musicxml"))
	require.NoError(t, err)
	return raw
}

func TestParseEtude(t *testing.T) {
	s, err := Parse(loadEtude(t))
	require.NoError(t, err)

	assert.Equal(t, "Open String Etude", s.Title)
	assert.Equal(t, 100.0, s.Tempo)
	assert.Equal(t, []int{0, 3840, 7680}, s.MeasureStartTicks())
	assert.Equal(t, []score.TempoChange{{Tick: 0, BPM: 100}, {Tick: 7680, BPM: 80}}, s.Tempos)
	assert.InDelta(t, 7.8, s.Duration(), 1e-9)

	require.Len(t, s.Tracks, 1)
	tr := s.Tracks[0]
	assert.Equal(t, "Guitar", tr.Name)
	assert.Equal(t, 24, tr.Program)
	assert.Equal(t, []int{64, 59, 55, 50, 45, 38}, tr.Tuning)
}

func TestParseMergesTabStaffPositions(t *testing.T) {
	s, err := Parse(loadEtude(t))
	require.NoError(t, err)

	bar := s.Tracks[0].Staves[0].Bars[0]
	require.Len(t, bar.Voices, 1, "tab staff notes must not become a second voice")
	beats := bar.Voices[0].Beats
	require.Len(t, beats, 2)

	first := beats[0].Notes[0]
	assert.Equal(t, 64, first.Key)
	assert.Equal(t, 2, first.String)
	assert.Equal(t, 5, first.Fret)

	chord := beats[1]
	require.Len(t, chord.Notes, 2)
	assert.Equal(t, 1920, chord.StartTick)
	assert.Equal(t, 3, chord.Notes[1].String)
}

func TestParseInstrumentAutomationAndTies(t *testing.T) {
	s, err := Parse(loadEtude(t))
	require.NoError(t, err)

	beats := s.Tracks[0].Staves[0].Bars[1].Voices[0].Beats
	require.Len(t, beats, 4)
	assert.Equal(t, []score.Automation{{Type: score.AutomationInstrument, Value: 26}}, beats[0].Automations)
	assert.Equal(t, 51, beats[0].Notes[0].Key)
	// drop-D tuning from the staff details: D3 string 4 fret 1
	assert.Equal(t, 4, beats[0].Notes[0].String)
	assert.Equal(t, 1, beats[0].Notes[0].Fret)
	assert.True(t, beats[1].Rest)
	assert.False(t, beats[2].Notes[0].TieDestination)
	assert.True(t, beats[3].Notes[0].TieDestination)
}

func TestParseCompressedContainer(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("META-INF/container.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<container><rootfiles><rootfile full-path="scores/etude.musicxml"/></rootfiles></container>`))
	require.NoError(t, err)
	w, err = zw.Create("scores/etude.musicxml")
	require.NoError(t, err)
	_, err = w.Write(loadEtude(t))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	s, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, s.MasterBars, 3)
}

func TestParseCapsDecompressedEntry(t *testing.T) {
	etude := loadEtude(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("etude.musicxml")
	require.NoError(t, err)
	_, err = w.Write(etude)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Parse(buf.Bytes())
	require.NoError(t, err)

	defer func(n int64) { maxEntryBytes = n }(maxEntryBytes)
	maxEntryBytes = int64(len(etude)) - 1
	_, err = Parse(buf.Bytes())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLoad))
}

func TestParseFailuresAreLoadErrors(t *testing.T) {
	cases := map[string][]byte{
		"empty":    nil,
		"garbage":  []byte("not xml at all"),
		"timewise": []byte(`<score-timewise><measure number="1"/></score-timewise>`),
		"no parts": []byte(`<score-partwise><part-list/></score-partwise>`),
		"bad zip":  []byte("PK\x03\x04broken"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindLoad))
			assert.NotEmpty(t, errs.Message(err))
		})
	}
}
