package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scoresync "github.com/cbegin/scoresync-go"
)

var etude = filepath.Join("..", "..", "internal", "musicxml", "testdata", "etude.musicxml")

func run(t *testing.T, args ...string) string {
	t.Helper()
	backendArg = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestOutputName(t *testing.T) {
	cases := map[string]string{
		"etude.musicxml":                    "etude.pdf",
		"/tmp/songs/Blues in E.mxl":         "Blues in E.pdf",
		"http://host/api/files/12?raw=true": "12.pdf",
		"/":                                 "score.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, outputName(in, ".pdf"), in)
	}
}

func TestRenderWAVCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "etude.wav")
	msg := run(t, "render-wav", etude, "-o", out, "--sample-rate", "8000", "--tail", "0")
	assert.Contains(t, msg, "wrote "+out)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Greater(t, len(raw), 44)
	assert.Equal(t, "RIFF", string(raw[:4]))
}

func TestExportPDFCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "etude.pdf")
	msg := run(t, "export-pdf", etude, "-o", out, "--backend", "notation")
	assert.Contains(t, msg, "wrote "+out)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF-")))
}

func TestMeasuresCommand(t *testing.T) {
	msg := run(t, "measures", etude, "--backend", "tab")
	var bounds []scoresync.MeasureBounds
	require.NoError(t, json.Unmarshal([]byte(msg), &bounds))
	require.NotEmpty(t, bounds)
	assert.Equal(t, 0, bounds[0].Index)
	for _, b := range bounds {
		assert.Greater(t, b.Width, 0.0)
	}
}

func TestUnknownBackendIsRejected(t *testing.T) {
	rootCmd.SetArgs([]string{"measures", etude, "--backend", "midi"})
	rootCmd.SetOut(&bytes.Buffer{})
	assert.Error(t, rootCmd.Execute())
}
