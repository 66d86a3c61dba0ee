// Package metrics provides the Prometheus collectors for label-tiles.
package metrics

// Status label values shared by the collectors.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Export format label values.
const (
	FormatGeoJSON = "geojson"
	FormatCOCO    = "coco"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~4s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)
