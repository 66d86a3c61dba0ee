package window

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/securefs"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

func TestOffsets(t *testing.T) {
	t.Parallel()
	got, err := Offsets(256, 128)
	require.NoError(t, err)
	assert.Equal(t, []Offset{{128, 0}, {0, 128}, {128, 128}}, got)

	got, err = Offsets(256, 256)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Offsets(256, 100)
	require.NoError(t, err)
	assert.Len(t, got, 8, "3x3 grid minus the origin")

	_, err = Offsets(256, 0)
	require.Error(t, err)
}

func TestRequiredTiles(t *testing.T) {
	t.Parallel()
	a := tiles.TileAddress{Z: 3, X: 2, Y: 2}

	assert.Equal(t, []Placement{
		{Tile: a, SrcX: 128, SrcY: 0},
		{Tile: tiles.TileAddress{Z: 3, X: 3, Y: 2}, SrcX: 0, SrcY: 0, DstX: 128},
	}, RequiredTiles(a, Offset{128, 0}, 256))

	got := RequiredTiles(a, Offset{64, 192}, 256)
	require.Len(t, got, 4)
	assert.Equal(t, Placement{Tile: tiles.TileAddress{Z: 3, X: 2, Y: 3}, SrcX: 64, DstY: 64}, got[2])
	assert.Equal(t, Placement{Tile: tiles.TileAddress{Z: 3, X: 3, Y: 3}, DstX: 192, DstY: 64}, got[3])

	edge := RequiredTiles(tiles.TileAddress{Z: 3, X: 7, Y: 0}, Offset{128, 0}, 256)
	assert.Equal(t, 0, edge[1].Tile.X, "columns wrap at the antimeridian")
}

func TestTranslateAndClip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		box     tiles.PixelBBox
		ox, oy  float64
		want    tiles.PixelBBox
		visible bool
	}{
		{"inside", tiles.PixelBBox{X: 200, Y: 10, Width: 20, Height: 20}, 128, 0, tiles.PixelBBox{X: 72, Y: 10, Width: 20, Height: 20}, true},
		{"clipped left", tiles.PixelBBox{X: 100, Y: 10, Width: 50, Height: 20}, 128, 0, tiles.PixelBBox{X: 0, Y: 10, Width: 22, Height: 20}, true},
		{"outside", tiles.PixelBBox{X: 10, Y: 10, Width: 20, Height: 20}, 128, 0, tiles.PixelBBox{}, false},
		{"touching edge", tiles.PixelBBox{X: 108, Y: 0, Width: 20, Height: 20}, 128, 0, tiles.PixelBBox{}, false},
		{"neighbour tile", tiles.PixelBBox{X: 0, Y: 0, Width: 30, Height: 30}, -128, 0, tiles.PixelBBox{X: 128, Y: 0, Width: 30, Height: 30}, true},
		{"clipped far edge", tiles.PixelBBox{X: 100, Y: 0, Width: 50, Height: 10}, -128, 0, tiles.PixelBBox{X: 228, Y: 0, Width: 28, Height: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := TranslateAndClip(tt.box, tt.ox, tt.oy, 256)
			assert.Equal(t, tt.visible, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTileFileName(t *testing.T) {
	t.Parallel()
	addr, err := ParseTileFileName("tiles/osm/10_550_335.png")
	require.NoError(t, err)
	assert.Equal(t, tiles.TileAddress{Z: 10, X: 550, Y: 335}, addr)

	addr, err = ParseTileFileName("10_550_335_w128_0.png")
	require.NoError(t, err)
	assert.Equal(t, tiles.TileAddress{Z: 10, X: 550, Y: 335}, addr)

	_, err = ParseTileFileName("cover.png")
	require.Error(t, err)
	_, err = ParseTileFileName("2_9_0.png")
	require.ErrorIs(t, err, tiles.ErrInvalidAddress)

	assert.Equal(t, "10_550_335_w128_64.png", WindowFileName(tiles.TileAddress{Z: 10, X: 550, Y: 335}, Offset{128, 64}))
}

const testTileSize = 8

var (
	red    = color.NRGBA{R: 255, A: 255}
	green  = color.NRGBA{G: 255, A: 255}
	blue   = color.NRGBA{B: 255, A: 255}
	yellow = color.NRGBA{R: 255, G: 255, A: 255}
)

func writeTile(t *testing.T, fs *securefs.SecureFS, name string, c color.Color) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(testTileSize, testTileSize, c), imaging.PNG))
	require.NoError(t, fs.WriteFileAtomic(t.Context(), "tiles/test/"+name, buf.Bytes(), 0o644))
}

// setupDataset caches a 2x2 block of tiles and a COCO export labeling only the top-left one
func setupDataset(t *testing.T, withDiagonal bool) *securefs.SecureFS {
	t.Helper()
	fs, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	writeTile(t, fs, "3_2_2.png", red)
	writeTile(t, fs, "3_3_2.png", green)
	writeTile(t, fs, "3_2_3.png", blue)
	if withDiagonal {
		writeTile(t, fs, "3_3_3.png", yellow)
	}

	box := tiles.PixelBBox{X: 5, Y: 5, Width: 2, Height: 2}
	doc := &export.COCODocument{
		Info:   export.COCOInfo{Description: "Tile labeling dataset"},
		Images: []export.COCOImage{{ID: 1, FileName: "tiles/test/3_2_2.png", Width: testTileSize, Height: testTileSize}},
		Annotations: []export.COCOAnnotation{{
			ID: 1, ImageID: 1, CategoryID: 1, BBox: box,
			Segmentation: export.Segmentation(box), Area: box.Area(), NounPhrase: "car",
		}},
		Categories: []export.COCOCategory{{ID: 1, Name: "car"}},
	}
	require.NoError(t, export.NewWriter(fs).Save(t.Context(), export.COCOFile, doc))
	return fs
}

func TestGeneratorRun(t *testing.T) {
	t.Parallel()
	fs := setupDataset(t, true)

	gen, err := NewGenerator(fs, Config{Stride: 4, ServerID: "test"})
	require.NoError(t, err)
	res, err := gen.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, res.OriginalsCopied)
	assert.Equal(t, 3, res.WindowsCreated)
	assert.Equal(t, 0, res.WindowsSkipped)
	assert.Equal(t, 4, res.Images)
	assert.Equal(t, 4, res.Annotations)

	out, err := export.NewWriter(fs).LoadCOCO(DefaultOutputDir + "/" + export.COCOFile)
	require.NoError(t, err)
	assert.Equal(t, "Sliding window dataset (stride=4)", out.Info.Description)
	assert.Equal(t, []string{"3_2_2.png", "3_2_2_w4_0.png", "3_2_2_w0_4.png", "3_2_2_w4_4.png"},
		[]string{out.Images[0].FileName, out.Images[1].FileName, out.Images[2].FileName, out.Images[3].FileName})

	diag := out.Annotations[3]
	assert.Equal(t, 4, diag.ImageID)
	assert.Equal(t, 4, diag.ID)
	assert.Equal(t, tiles.PixelBBox{X: 1, Y: 1, Width: 2, Height: 2}, diag.BBox)
	assert.Equal(t, "car", diag.NounPhrase)

	data, err := fs.ReadFile(DefaultOutputDir + "/3_2_2_w4_4.png")
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, testTileSize, testTileSize), img.Bounds())

	at := func(x, y int) color.NRGBA { return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA) }
	assert.Equal(t, red, at(0, 0))
	assert.Equal(t, green, at(7, 0))
	assert.Equal(t, blue, at(0, 7))
	assert.Equal(t, yellow, at(7, 7))
}

func TestGeneratorSkipsWindowsWithMissingTiles(t *testing.T) {
	t.Parallel()
	fs := setupDataset(t, false)

	gen, err := NewGenerator(fs, Config{Stride: 4, OutputDir: "windows"})
	require.NoError(t, err)
	res, err := gen.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, res.WindowsCreated)
	assert.Equal(t, 1, res.WindowsSkipped)
	exists, err := fs.Exists("windows/3_2_2_w4_4.png")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGeneratorRejectsBadConfig(t *testing.T) {
	t.Parallel()
	fs, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	_, err = NewGenerator(fs, Config{Stride: 0})
	require.Error(t, err)
	_, err = NewGenerator(fs, Config{Stride: 4, OutputDir: "../outside"})
	require.Error(t, err)

	gen, err := NewGenerator(fs, Config{Stride: 4})
	require.NoError(t, err)
	_, err = gen.Run(t.Context())
	require.Error(t, err, "no export to expand")
}
