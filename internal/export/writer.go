package export

import (
	"context"
	"encoding/json"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/securefs"
)

// File names under the data directory
const (
	GeoJSONFile = "labels.geojson"
	COCOFile    = "annotations.json"
)

// Writer persists documents into the data directory
type Writer struct {
	fs  *securefs.SecureFS
	log logger.Logger
}

// NewWriter returns a Writer rooted at fs
func NewWriter(fs *securefs.SecureFS) *Writer {
	return &Writer{fs: fs, log: GetLogger()}
}

// Save encodes doc as indented JSON and replaces name atomically.
func (w *Writer) Save(ctx context.Context, name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("export").
			Category(errors.CategoryExport).
			Context("file", name).
			Build()
	}
	if err := w.fs.WriteFileAtomic(ctx, name, append(data, '\n'), 0o644); err != nil {
		return err
	}
	w.log.Info("export written", logger.String("file", name), logger.Int("bytes", len(data)+1))
	return nil
}

// LoadCOCO reads a COCO document from the data directory
func (w *Writer) LoadCOCO(name string) (*COCODocument, error) {
	data, err := w.fs.ReadFile(name)
	if err != nil {
		return nil, errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("file", name).
			Build()
	}
	return DecodeCOCO(data)
}

// DecodeCOCO parses a COCO document
func DecodeCOCO(data []byte) (*COCODocument, error) {
	var doc COCODocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, exportError("decode coco: %v", err)
	}
	return &doc, nil
}
