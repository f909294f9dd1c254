package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{
		Time:      time.Date(2024, 1, 15, 12, 0, 0, 123456789, time.UTC),
		StationID: "41001",
	}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.Time.Equal(decoded.Time))
	assert.Equal(t, c.StationID, decoded.StationID)
}

func TestCursorStationWithSeparator(t *testing.T) {
	c := Cursor{Time: time.Now().UTC(), StationID: "st|weird"}
	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, "st|weird", decoded.StationID)
}

func TestDecodeCursor_Malformed(t *testing.T) {
	for _, token := range []string{"", "!!!", "bm90LWEtY3Vyc29y"} {
		_, err := DecodeCursor(token)
		require.Error(t, err, "token %q", token)
	}
}

func TestParseBBox(t *testing.T) {
	b, err := ParseBBox("-75.5,30,-60,45.25")
	require.NoError(t, err)
	assert.Equal(t, &BBox{MinLon: -75.5, MinLat: 30, MaxLon: -60, MaxLat: 45.25}, b)

	_, err = ParseBBox("1,2,3")
	require.Error(t, err)

	_, err = ParseBBox("10,2,3,4")
	require.Error(t, err)

	_, err = ParseBBox("a,b,c,d")
	require.Error(t, err)
}
