package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crimesafe/internal/model"
)

func TestGazetteer_Lookup(t *testing.T) {
	g := DefaultGazetteer()

	p, ok := g.Lookup("  bangalore ")
	require.True(t, ok)
	assert.InDelta(t, 77.5946, p.Lon, 1e-9)

	_, ok = g.Lookup("Atlantis")
	assert.False(t, ok)
}

func TestLoadGazetteer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Hubli: {lat: 15.3647, lon: 75.124}\nmysore: {lat: 12.3, lon: 76.6}\n"), 0o644))

	g, err := LoadGazetteer(path)
	require.NoError(t, err)

	p, ok := g.Lookup("HUBLI")
	require.True(t, ok)
	assert.Equal(t, model.Point{Lat: 15.3647, Lon: 75.124}, p)

	p, _ = g.Lookup("Mysore")
	assert.Equal(t, model.Point{Lat: 12.3, Lon: 76.6}, p)

	_, ok = g.Lookup("Karwar")
	assert.True(t, ok)
}

func TestLoadGazetteer_Errors(t *testing.T) {
	_, err := LoadGazetteer(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Nowhere: {lat: 120, lon: 0}\n"), 0o644))
	_, err = LoadGazetteer(path)
	assert.Error(t, err)
}

func TestLocationID(t *testing.T) {
	assert.Equal(t, "bangalore_12.97_77.59", LocationID("BANGALORE", model.Point{Lat: 12.9716, Lon: 77.5946}))
	assert.Equal(t, "new_delhi_28.61_77.21", LocationID(" New  Delhi ", model.Point{Lat: 28.6139, Lon: 77.209}))
	assert.Equal(t, "unknown_0_0", LocationID("Unknown", model.Point{}))
}

func TestStreamCSV_Charset(t *testing.T) {
	input := "name\nCaf\xe9\n"
	rows, errs := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Charset: "windows-1252"})

	var got [][]string
	for row := range rows {
		got = append(got, row)
	}
	require.NoError(t, <-errs)
	require.Len(t, got, 2)
	assert.Equal(t, "Café", got[1][0])

	_, errs = StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Charset: "klingon"})
	assert.Error(t, <-errs)
}
