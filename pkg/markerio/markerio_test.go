package markerio

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"stereoframe/internal/models"
	"stereoframe/internal/phantom"
	"stereoframe/pkg/config"
	"stereoframe/pkg/detection"
	"stereoframe/pkg/leksell"
)

func awkwardTable(t *testing.T) *models.MarkerTable {
	t.Helper()
	table := models.NewMarkerTable()
	table.NbMarkers = 6
	values := []float64{0.1, 1.0 / 3, math.Pi, -2.5e-7, 123456.789012345, math.Nextafter(1, 2)}
	for _, slice := range []int{7, 3, 11} {
		var set models.MarkerSet
		for r := 0; r < 6; r++ {
			v := values[r] * float64(slice)
			set.Set(models.Role(r), r3.Vec{X: v, Y: -v / 7, Z: float64(slice) * 1.3})
		}
		require.NoError(t, table.Set(slice, set))
	}
	return table
}

func TestRoundTripIsBitExact(t *testing.T) {
	table := awkwardTable(t)

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, table))
	assert.True(t, strings.HasPrefix(buf.String(), "<?xml"))
	assert.Contains(t, buf.String(), `<FrameMarkers version="1" nbMarkers="6">`)

	loaded, err := Deserialize(&buf)
	require.NoError(t, err)
	assert.True(t, table.Equal(loaded))
	assert.Equal(t, []int{3, 7, 11}, loaded.Slices())
}

func TestRoundTripDetectedTable(t *testing.T) {
	vol, err := phantom.New(phantom.DefaultOptions(9), leksell.Default())
	require.NoError(t, err)
	table, err := detection.Detect(vol, config.DefaultDetection(), detection.NoHint, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "runs", "frame.xml")
	require.NoError(t, SaveFile(path, table))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, table.Equal(loaded))
	assert.Equal(t, 9, loaded.NbMarkers)
}

func TestRoundTripEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, models.NewMarkerTable()))

	loaded, err := Deserialize(&buf)
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
	assert.Equal(t, 0, loaded.NbMarkers)
}

func TestDeserializeRejectsBadDocuments(t *testing.T) {
	marker := func(role int) string {
		return `<Marker role="` + string(rune('0'+role)) + `">1 2 3</Marker>`
	}
	six := ""
	for r := 0; r < 6; r++ {
		six += marker(r)
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `<FrameMarkers version="1"`},
		{"version", `<FrameMarkers version="2" nbMarkers="6"></FrameMarkers>`},
		{"duplicate slice", `<FrameMarkers version="1" nbMarkers="6"><Slice index="1">` + six + `</Slice><Slice index="1">` + six + `</Slice></FrameMarkers>`},
		{"duplicate role", `<FrameMarkers version="1" nbMarkers="6"><Slice index="1">` + six + marker(0) + `</Slice></FrameMarkers>`},
		{"short slice", `<FrameMarkers version="1" nbMarkers="6"><Slice index="1">` + marker(0) + `</Slice></FrameMarkers>`},
		{"bad count", `<FrameMarkers version="1" nbMarkers="7"><Slice index="1">` + six + `</Slice></FrameMarkers>`},
		{"bad count without slices", `<FrameMarkers version="1" nbMarkers="7"></FrameMarkers>`},
		{"zero count with slices", `<FrameMarkers version="1" nbMarkers="0"><Slice index="1">` + six + `</Slice></FrameMarkers>`},
		{"role out of box", `<FrameMarkers version="1" nbMarkers="6"><Slice index="1">` + six[len(marker(0)):] + marker(8) + `</Slice></FrameMarkers>`},
		{"coordinates", `<FrameMarkers version="1" nbMarkers="6"><Slice index="1">` + strings.Replace(six, "1 2 3", "1 2", 1) + `</Slice></FrameMarkers>`},
		{"number", `<FrameMarkers version="1" nbMarkers="6"><Slice index="1">` + strings.Replace(six, "1 2 3", "1 x 3", 1) + `</Slice></FrameMarkers>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrIO)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.xml"))
	assert.ErrorIs(t, err, models.ErrIO)
}
