package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

func TestExportCOCO(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	car, truck := tiles.TileAddress{Z: 2, X: 1, Y: 1}, tiles.TileAddress{Z: 2, X: 2, Y: 1}
	for _, body := range []map[string]any{
		{"tile": car, "pixel_bbox": []float64{10, 10, 20, 30}, "noun_phrase": "car"},
		{"tile": truck, "pixel_bbox": []float64{0, 0, 100, 50}, "noun_phrase": "truck"},
	} {
		rec := env.do(t, http.MethodPost, "/api/v2/labels", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := env.do(t, http.MethodPost, "/api/v2/labels/negative", map[string]any{"tile": tiles.TileAddress{Z: 2}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v2/export/coco", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode[export.COCODocument](t, rec)

	assert.Equal(t, []export.COCOCategory{{ID: 1, Name: "car"}, {ID: 2, Name: "truck"}}, doc.Categories)
	require.Len(t, doc.Images, 3, "negative tiles stay in the dataset")
	for _, img := range doc.Images {
		assert.Equal(t, 256, img.Width)
	}
	require.Len(t, doc.Annotations, 2)
	areas := map[string]float64{}
	for _, a := range doc.Annotations {
		areas[a.NounPhrase] = a.Area
		want := map[string]int{"car": 1, "truck": 2}[a.NounPhrase]
		assert.Equal(t, want, a.CategoryID)
	}
	assert.Equal(t, map[string]float64{"car": 600, "truck": 5000}, areas)

	// The document is persisted next to the tile cache.
	persisted, err := export.NewWriter(env.sfs).LoadCOCO(export.COCOFile)
	require.NoError(t, err)
	assert.Equal(t, doc, *persisted)

	// Exporting again yields the same document.
	again := env.do(t, http.MethodGet, "/api/v2/export/coco", nil)
	assert.JSONEq(t, rec.Body.String(), again.Body.String())
}

func TestExportMixedTileSizes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v2/labels", map[string]any{
		"tile": tiles.TileAddress{Z: 3, X: 1, Y: 1}, "pixel_bbox": []float64{300, 300, 100, 100},
		"noun_phrase": "car", "tile_size": 512,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/v2/labels/negative", map[string]any{
		"tile": tiles.TileAddress{Z: 3, X: 2, Y: 1}, "tile_size": 512,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/v2/labels", map[string]any{
		"tile": tiles.TileAddress{Z: 3, X: 3, Y: 1}, "pixel_bbox": []float64{0, 0, 10, 10}, "noun_phrase": "car",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v2/export/coco", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode[export.COCODocument](t, rec)
	require.Len(t, doc.Images, 3)
	assert.Equal(t, []int{512, 512, 256}, []int{doc.Images[0].Width, doc.Images[1].Width, doc.Images[2].Width})

	rec = env.do(t, http.MethodGet, "/api/v2/export/geojson?mode=pixel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fc := decode[export.FeatureCollection](t, rec)
	require.Len(t, fc.Features, 3)
	sizes := make([]int, 0, len(fc.Features))
	for _, f := range fc.Features {
		sizes = append(sizes, f.Properties.MustInt("tile_size"))
	}
	assert.ElementsMatch(t, []int{512, 512, 256}, sizes)
}

func TestExportCOCOFiltersByServer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v2/labels", map[string]any{
		"tile": tiles.TileAddress{Z: 2, X: 1, Y: 1}, "pixel_bbox": []float64{0, 0, 8, 8}, "noun_phrase": "car",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v2/export/coco?tile_server_id=osm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode[export.COCODocument](t, rec)
	require.Len(t, doc.Images, 1)
	assert.Equal(t, "tiles/osm/2_1_1.png", doc.Images[0].FileName)

	rec = env.do(t, http.MethodGet, "/api/v2/export/coco?tile_server_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportGeoJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	addr := tiles.TileAddress{Z: 1, X: 0, Y: 0}

	rec := env.do(t, http.MethodPost, "/api/v2/labels", map[string]any{
		"tile": addr, "pixel_bbox": []float64{0, 0, 256, 256}, "noun_phrase": "car",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, mode := range []string{"", "geo", "pixel"} {
		t.Run("mode "+mode, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v2/export/geojson?mode="+mode, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			doc := decode[export.FeatureCollection](t, rec)
			assert.Equal(t, "FeatureCollection", doc.Type)
			require.Len(t, doc.Features, 1)

			f := doc.Features[0]
			assert.Equal(t, "Polygon", f.Geometry.GeoJSONType())
			assert.Equal(t, "car", f.Properties.MustString("noun_phrase"))

			// A full-tile box spans the whole tile.
			ring, ok := export.OuterRing(f)
			require.True(t, ok)
			got := export.RingBounds(ring)
			want, err := tiles.TileToGeoBBox(addr)
			require.NoError(t, err)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-9)
			}
		})
	}

	exists, err := env.sfs.Exists(export.GeoJSONFile)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExportErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v2/export/geojson?mode=bad", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v2/export/geojson?tile_server_id=nope", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v2/export/geojson", nil).Code)

	body := env.do(t, http.MethodGet, "/api/v2/metrics", nil).Body.String()
	assert.Contains(t, body, `export_documents_total{format="geojson",status="error"} 2`)
	assert.Contains(t, body, `export_documents_total{format="geojson",status="success"} 1`)
}
