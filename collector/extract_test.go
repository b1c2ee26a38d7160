package collector

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusPage(slots map[int][2]string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		s, ok := slots[i]
		if !ok {
			continue
		}
		if s[0] != "" {
			fmt.Fprintf(&b, "<h2 id=\"SupplyName%d\">%s</h2>", i, s[0])
		}
		if s[1] != "" {
			fmt.Fprintf(&b, "<span id=\"SupplyPLR%d\">%s</span>", i, s[1])
		}
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestExtractAllSlots(t *testing.T) {
	t.Parallel()

	page := statusPage(map[int][2]string{
		0: {"Black Cartridge", "80%*"},
		1: {"Cyan Cartridge", "45%"},
		2: {"Magenta Cartridge", "30%"},
		3: {"Yellow Cartridge", "9%"},
		4: {"Fuser Kit", "5%"},
		5: {"Document Feeder Kit", "70%"},
	})

	got, err := ExtractBytes([]byte(page), DefaultNamingScheme())
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i, s := range got {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, "Black Cartridge", got[0].Name)
	assert.Equal(t, 80, got[0].Level())
	assert.Equal(t, 9, got[3].Level())
}

func TestExtractSlotIndependence(t *testing.T) {
	t.Parallel()

	// Slot 1 has only a name, slot 2 only a level, slot 4 is absent.
	page := statusPage(map[int][2]string{
		0: {"Black Cartridge", "50%"},
		1: {"Cyan Cartridge", ""},
		2: {"", "40%"},
		3: {"Yellow Cartridge", "20%"},
		5: {"Magenta Cartridge", "60%"},
	})

	got, err := ExtractBytes([]byte(page), DefaultNamingScheme())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 3, 5}, []int{got[0].Index, got[1].Index, got[2].Index})
}

func TestExtractSlotBound(t *testing.T) {
	t.Parallel()

	page := statusPage(map[int][2]string{
		0: {"Black", "50"},
		6: {"Extra", "50"},
	})

	got, err := ExtractBytes([]byte(page), DefaultNamingScheme())
	require.NoError(t, err)
	require.Len(t, got, 1)

	scheme := DefaultNamingScheme()
	scheme.Slots = 8
	got, err = ExtractBytes([]byte(page), scheme)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Extra", got[1].Name)
}

func TestExtractElementRestriction(t *testing.T) {
	t.Parallel()

	page := `<div id="SupplyName0">Black</div><div id="SupplyPLR0">50%</div>`

	got, err := ExtractBytes([]byte(page), DefaultNamingScheme())
	require.NoError(t, err)
	assert.Empty(t, got)

	anyTag := DefaultNamingScheme()
	anyTag.LevelElement = ""
	anyTag.NameElement = ""
	got, err = ExtractBytes([]byte(page), anyTag)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 50, got[0].Level())
}

func TestExtractCustomPrefixes(t *testing.T) {
	t.Parallel()

	page := `<h2 id="TonerName0"> Black </h2><span id="TonerLevel0">12</span>`
	scheme := NamingScheme{LevelPrefix: "TonerLevel", NamePrefix: "TonerName", LevelElement: "span", NameElement: "h2"}

	got, err := ExtractBytes([]byte(page), scheme)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Black", got[0].Name)
	assert.Equal(t, 12, got[0].Level())
}

func TestExtractIdempotent(t *testing.T) {
	t.Parallel()

	page := []byte(statusPage(map[int][2]string{0: {"Black", "50%"}, 2: {"Cyan", "n/a"}}))
	first, err := ExtractBytes(page, DefaultNamingScheme())
	require.NoError(t, err)
	second, err := ExtractBytes(page, DefaultNamingScheme())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestExtractUnreadable(t *testing.T) {
	t.Parallel()

	_, err := Extract(failingReader{}, DefaultNamingScheme())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse markup")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  int
	}{
		{"37%", 37},
		{"n/a", 0},
		{"", 0},
		{"100%", 100},
		{"150", 100},
		{"99999999999999999999", 100},
		{"<10%", 10},
		{"0", 0},
		{" 007 ", 7},
		{"--", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestReadings(t *testing.T) {
	t.Parallel()

	got := Readings([]RawSupply{
		{Index: 0, Name: "Black Cartridge", LevelText: "50%"},
		{Index: 1, Name: "Maintenance Kit", LevelText: "--"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, ConsumableReading{Name: "Black Cartridge", Category: CategoryBlack, Level: 50}, got[0])
	assert.Equal(t, ConsumableReading{Name: "Maintenance Kit", Category: CategoryOther, Level: 0}, got[1])
}
