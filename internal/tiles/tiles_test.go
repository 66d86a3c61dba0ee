package tiles

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahgolmant/label-tiles/internal/errors"
)

var globe = GeoBBox{-180, -MaxLatitude, 180, MaxLatitude}

func TestLonLatToTileKnownPoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lon, lat float64
		z        int
		want     TileAddress
	}{
		{"origin z0", 0, 0, 0, TileAddress{0, 0, 0}},
		{"origin z1", 0.0001, 0.0001, 1, TileAddress{1, 1, 0}},
		{"northwest corner", -180, MaxLatitude, 3, TileAddress{3, 0, 0}},
		{"south pole clamps", 10, -90, 2, TileAddress{2, 2, 3}},
		{"east edge wraps to west", 180, 0, 2, TileAddress{2, 0, 2}},
		{"berlin z10", 13.4050, 52.5200, 10, TileAddress{10, 550, 335}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := LonLatToTile(tt.lon, tt.lat, tt.z)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLonLatToTileRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := LonLatToTile(0, 0, -1)
	require.ErrorIs(t, err, ErrInvalidZoom)
	assert.True(t, errors.IsCategory(err, errors.CategoryCoordinate))

	_, err = LonLatToTile(0, 0, MaxZoom+1)
	require.ErrorIs(t, err, ErrInvalidZoom)

	_, err = LonLatToTile(math.NaN(), 0, 3)
	require.ErrorIs(t, err, ErrMalformedBBox)
}

func TestRoundTripContainment(t *testing.T) {
	t.Parallel()

	points := [][2]float64{
		{0, 0}, {-122.4194, 37.7749}, {151.2093, -33.8688}, {-179.999, 84.9}, {179.999, -84.9},
	}
	for z := 0; z <= 18; z += 3 {
		for _, p := range points {
			addr, err := LonLatToTile(p[0], p[1], z)
			require.NoError(t, err)
			box, err := TileToGeoBBox(addr)
			require.NoError(t, err)

			assert.LessOrEqual(t, box.West(), p[0], "z=%d %v", z, p)
			assert.Less(t, p[0], box.East(), "z=%d %v", z, p)
			assert.LessOrEqual(t, box.South(), p[1], "z=%d %v", z, p)
			assert.Less(t, p[1], box.North(), "z=%d %v", z, p)
		}
	}
}

func TestTileToGeoBBox(t *testing.T) {
	t.Parallel()

	box, err := TileToGeoBBox(TileAddress{0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, -180, box.West(), 1e-12)
	assert.InDelta(t, 180, box.East(), 1e-12)
	assert.InDelta(t, MaxLatitude, box.North(), 1e-9)
	assert.InDelta(t, -MaxLatitude, box.South(), 1e-9)

	box, err = TileToGeoBBox(TileAddress{1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, box.West(), 1e-12)
	assert.InDelta(t, 0, box.North(), 1e-12)

	_, err = TileToGeoBBox(TileAddress{2, 4, 0})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestParseTileAddress(t *testing.T) {
	t.Parallel()

	addr, err := ParseTileAddress(" 10/5/7 ")
	require.NoError(t, err)
	assert.Equal(t, TileAddress{10, 5, 7}, addr)
	assert.Equal(t, "10/5/7", addr.String())

	for _, bad := range []string{"", "1/2", "a/b/c", "1/2/3/4", "1/2/0"} {
		_, err := ParseTileAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestEnumerateGlobeCount(t *testing.T) {
	t.Parallel()

	for z := 0; z <= 5; z++ {
		got, err := EnumerateTiles(globe, z)
		require.NoError(t, err)
		assert.Len(t, got, 1<<(2*z), "z=%d", z)

		count, err := CountTiles(globe, z)
		require.NoError(t, err)
		assert.Equal(t, len(got), count)
	}
}

func TestEnumerateZoomZero(t *testing.T) {
	t.Parallel()

	got, err := EnumerateTiles(GeoBBox{-10, -10, 10, 10}, 0)
	require.NoError(t, err)
	assert.Equal(t, []TileAddress{{0, 0, 0}}, got)
}

func TestEnumerateBoundaryIsHalfOpen(t *testing.T) {
	t.Parallel()

	// Exactly the western half of the northern hemisphere at z=1.
	got, err := EnumerateTiles(GeoBBox{-180, 0, 0, MaxLatitude}, 1)
	require.NoError(t, err)
	assert.Equal(t, []TileAddress{{1, 0, 0}}, got)

	// The same box expressed via tile bounds at a deeper zoom.
	tb, err := TileToGeoBBox(TileAddress{6, 20, 30})
	require.NoError(t, err)
	got, err = EnumerateTiles(tb, 6)
	require.NoError(t, err)
	assert.Equal(t, []TileAddress{{6, 20, 30}}, got)
}

func TestEnumerateSortedAndUnique(t *testing.T) {
	t.Parallel()

	got, err := EnumerateTiles(GeoBBox{-5, -5, 5, 5}, 4)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Less(got[i]), "%v before %v", got[i-1], got[i])
	}
}

func TestEnumerateAntimeridian(t *testing.T) {
	t.Parallel()

	got, err := EnumerateTiles(GeoBBox{170, -10, -170, 10}, 3)
	require.NoError(t, err)

	xs := map[int]bool{}
	for _, a := range got {
		xs[a.X] = true
		assert.GreaterOrEqual(t, a.X, 0)
		assert.Less(t, a.X, 8)
	}
	assert.Equal(t, map[int]bool{0: true, 7: true}, xs)
	assert.Len(t, got, 4)
}

func TestEnumerateRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := EnumerateTiles(GeoBBox{0, 10, 5, 5}, 3)
	require.ErrorIs(t, err, ErrMalformedBBox)

	_, err = EnumerateTiles(globe, 31)
	require.ErrorIs(t, err, ErrInvalidZoom)
}

func TestNeighbors(t *testing.T) {
	t.Parallel()

	got := Neighbors(TileAddress{2, 0, 0}, 1)
	assert.ElementsMatch(t, []TileAddress{
		{2, 3, 0}, {2, 1, 0},
		{2, 3, 1}, {2, 0, 1}, {2, 1, 1},
	}, got)

	assert.Empty(t, Neighbors(TileAddress{0, 0, 0}, 1))
	assert.Nil(t, Neighbors(TileAddress{2, 1, 1}, 0))
}

func TestExpand(t *testing.T) {
	t.Parallel()

	got := Expand([]TileAddress{{4, 5, 5}, {4, 6, 5}}, 1)
	assert.Len(t, got, 12)
	assert.Contains(t, got, TileAddress{4, 4, 4})
	assert.Contains(t, got, TileAddress{4, 7, 6})
}

func TestGeoToPixelFullTile(t *testing.T) {
	t.Parallel()

	tb, err := TileToGeoBBox(TileAddress{10, 300, 400})
	require.NoError(t, err)

	px, err := GeoToPixelBBox(tb, tb, 256)
	require.NoError(t, err)
	assert.InDelta(t, 0, px.X, 1e-9)
	assert.InDelta(t, 0, px.Y, 1e-9)
	assert.InDelta(t, 256, px.Width, 1e-9)
	assert.InDelta(t, 256, px.Height, 1e-9)
}

func TestGeoToPixelClampsAndRoundTrips(t *testing.T) {
	t.Parallel()

	tile := GeoBBox{0, 0, 10, 10}
	px, err := GeoToPixelBBox(GeoBBox{2.5, 5, 20, 7.5}, tile, 512)
	require.NoError(t, err)
	assert.InDelta(t, 128, px.X, 1e-9)
	assert.InDelta(t, 128, px.Y, 1e-9)
	assert.InDelta(t, 384, px.Width, 1e-9)
	assert.InDelta(t, 128, px.Height, 1e-9)

	back, err := PixelToGeoBBox(px, tile, 512)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, back.West(), 1e-9)
	assert.InDelta(t, 10, back.East(), 1e-9)
	assert.InDelta(t, 5, back.South(), 1e-9)
	assert.InDelta(t, 7.5, back.North(), 1e-9)
}

func TestGeoToPixelDegenerate(t *testing.T) {
	t.Parallel()

	_, err := GeoToPixelBBox(GeoBBox{20, 0, 30, 10}, GeoBBox{0, 0, 10, 10}, 256)
	require.ErrorIs(t, err, ErrDegenerateBBox)
	assert.True(t, errors.IsCategory(err, errors.CategoryCoordinate))
}

func TestGeoToPixelAntimeridianBox(t *testing.T) {
	t.Parallel()

	west, err := TileToGeoBBox(TileAddress{1, 0, 0})
	require.NoError(t, err)

	// Box spans 170E..170W; inside the western tile only the part east of -180 is visible.
	px, err := GeoToPixelBBox(GeoBBox{170, 10, -170, 20}, west, 256)
	require.NoError(t, err)
	assert.InDelta(t, 0, px.X, 1e-9)
	assert.InDelta(t, 10.0/180*256, px.Width, 1e-9)
}

func TestGeoBBoxIntersects(t *testing.T) {
	t.Parallel()

	a := GeoBBox{-10, -10, 10, 10}
	assert.True(t, a.Intersects(GeoBBox{5, 5, 15, 15}))
	assert.False(t, a.Intersects(GeoBBox{10, -10, 20, 10}), "shared edge has no area")
	assert.True(t, GeoBBox{170, 0, -170, 10}.Intersects(GeoBBox{-175, 5, -160, 6}))
}

func TestPixelBBoxJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(PixelBBox{X: 1, Y: 2, Width: 3, Height: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3,4]`, string(data))

	var p PixelBBox
	require.NoError(t, json.Unmarshal([]byte(`[5,6,7,8]`), &p))
	assert.Equal(t, PixelBBox{5, 6, 7, 8}, p)
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &p))
}
