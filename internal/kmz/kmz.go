// Package kmz assembles Garmin Custom Map archives: a KML 2.2 document
// of GroundOverlay elements plus the JPEG tiles it references, zipped
// with maximum deflate compression.
package kmz

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/paulmach/orb"
	kml "github.com/twpayne/go-kml/v3"
)

// DocName is the archive entry Garmin devices look for.
const DocName = "doc.kml"

// Overlay is one positioned tile image.
type Overlay struct {
	Name string // archive filename, e.g. image_007.jpg
	Box  orb.Bound
	Data []byte // encoded JPEG payload
}

// Package is a fully assembled KMZ ready to be written: the KML
// document plus the tile files in scan order.
type Package struct {
	Doc      []byte
	Overlays []Overlay
}

// Build renders the KML document for the given overlays. The document
// name is the source layer name; the description records the tile
// count, which is what shows up in the device's map list.
func Build(name string, overlays []Overlay) (*Package, error) {
	children := []kml.Element{
		kml.Name(name),
		kml.Description(fmt.Sprintf("%d tiles", len(overlays))),
	}
	for _, o := range overlays {
		children = append(children, kml.GroundOverlay(
			kml.Icon(
				kml.Href(o.Name),
			),
			kml.LatLonBox(
				kml.North(o.Box.Max[1]),
				kml.South(o.Box.Min[1]),
				kml.East(o.Box.Max[0]),
				kml.West(o.Box.Min[0]),
			),
		))
	}

	var buf bytes.Buffer
	if err := kml.KML(kml.Document(children...)).WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("kmz: render kml: %w", err)
	}

	return &Package{Doc: buf.Bytes(), Overlays: overlays}, nil
}

// Write streams the archive: doc.kml first, then every tile in scan
// order, all deflated at the highest compression level.
func (p *Package) Write(w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	entry, err := zw.Create(DocName)
	if err != nil {
		return err
	}
	if _, err := entry.Write(p.Doc); err != nil {
		return err
	}

	for _, o := range p.Overlays {
		entry, err := zw.Create(o.Name)
		if err != nil {
			return err
		}
		if _, err := entry.Write(o.Data); err != nil {
			return err
		}
	}

	return zw.Close()
}

// WriteFile writes the archive to path via a temporary file in the
// same directory, renamed into place only once fully written, so a
// failed export never leaves a truncated KMZ behind.
func (p *Package) WriteFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := p.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
