package soundfont

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReaderReportsMonotonicPercent(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 1000)
	var seen []int
	r := NewProgressReader(context.Background(), iotestHalfReader{bytes.NewReader(data)}, int64(len(data)), func(p int) {
		seen = append(seen, p)
	})
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, out, 1000)
	require.NotEmpty(t, seen)
	assert.Equal(t, 99, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestProgressReaderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := io.ReadAll(NewProgressReader(ctx, bytes.NewReader([]byte("abc")), 3, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRejectsGarbageWithoutCompleting(t *testing.T) {
	var last int
	_, err := Load(context.Background(), bytes.NewReader([]byte("RIFF....nope")), 12, func(p int) { last = p })
	require.Error(t, err)
	assert.Less(t, last, 100)
}

// iotestHalfReader returns at most 100 bytes per read.
type iotestHalfReader struct{ r io.Reader }

func (h iotestHalfReader) Read(p []byte) (int, error) {
	if len(p) > 100 {
		p = p[:100]
	}
	return h.r.Read(p)
}
