// Package metadata recovers dimensions, DPI and format from image bytes.
//
// Parsing produces an ordered list of tag directories, one per container
// structure found in the file. Width and height are taken from the first
// tag whose name mentions them, in directory order. DPI is resolved by an
// ordered chain of readers over the same directories.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata holds whatever could be recovered. Nil fields are unknown.
type Metadata struct {
	Width  *int
	Height *int
	DPI    *int
	Format string
}

// Tag is a named value inside a directory. Value is an int or a float64.
type Tag struct {
	Name  string
	Value any
}

// Directory is a named group of tags from one container structure.
type Directory struct {
	Name string
	Tags []Tag
}

// Get returns the value of the first tag called name.
func (d *Directory) Get(name string) (any, bool) {
	for _, t := range d.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return nil, false
}

const (
	dirImage      = "Image"
	dirJFIF       = "JFIF"
	dirExifIFD0   = "Exif IFD0"
	dirExifSubIFD = "Exif SubIFD"
	dirPNGPhys    = "PNG-pHYs"
)

// Extractor parses image bytes. It holds no state.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract never fails: it always returns the metadata it could recover.
// The error describes parse problems and is meant for logging only.
func (e *Extractor) Extract(data []byte) (Metadata, error) {
	dirs, format, err := readDirectories(data)

	var md Metadata
	md.Format = format
	md.Width, md.Height = findDimensions(dirs)
	for _, read := range dpiReaders {
		if dpi, ok := read(dirs); ok {
			md.DPI = &dpi
			break
		}
	}
	return md, err
}

func readDirectories(data []byte) ([]Directory, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("no data")
	}

	var (
		dirs   []Directory
		errs   []error
		format string
	)

	cfg, f, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		errs = append(errs, fmt.Errorf("decode config: %w", err))
	} else {
		format = strings.ToUpper(f)
		dirs = append(dirs, Directory{Name: dirImage, Tags: []Tag{
			{Name: "Image Width", Value: cfg.Width},
			{Name: "Image Height", Value: cfg.Height},
		}})
	}

	var phys *Directory
	switch {
	case isJPEG(data):
		jfif, err := readJFIF(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("jfif: %w", err))
		}
		if jfif != nil {
			dirs = append(dirs, *jfif)
		}
	case isPNG(data):
		phys, err = readPNGPhys(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("png: %w", err))
		}
	}

	dirs = append(dirs, readExif(data)...)

	if phys != nil {
		dirs = append(dirs, *phys)
	}

	return dirs, format, errors.Join(errs...)
}

// findDimensions returns the first resolvable width and height tags.
func findDimensions(dirs []Directory) (width, height *int) {
	for _, d := range dirs {
		for _, t := range d.Tags {
			name := strings.ToLower(t.Name)
			if width == nil && strings.Contains(name, "width") {
				if v, ok := intValue(t.Value); ok {
					width = &v
				}
			}
			if height == nil && strings.Contains(name, "height") {
				if v, ok := intValue(t.Value); ok {
					height = &v
				}
			}
		}
	}
	return width, height
}

type dpiReader func(dirs []Directory) (int, bool)

// dpiReaders run in priority order; the first hit wins.
var dpiReaders = []dpiReader{jfifDPI, exifDPI, pngDPI}

func jfifDPI(dirs []Directory) (int, bool) {
	d := find(dirs, dirJFIF)
	if d == nil {
		return 0, false
	}
	x, ok := intTag(d, "X Resolution")
	if !ok || x <= 0 {
		return 0, false
	}
	units, _ := intTag(d, "Resolution Units")
	switch units {
	case 1:
		return x, true
	case 2:
		return round(float64(x) * 2.54), true
	}
	return 0, false
}

func exifDPI(dirs []Directory) (int, bool) {
	d := find(dirs, dirExifIFD0)
	if d == nil {
		return 0, false
	}
	x, ok := floatTag(d, "X Resolution")
	if !ok || x <= 0 {
		return 0, false
	}
	unit, ok := intTag(d, "Resolution Unit")
	if !ok {
		unit = 2
	}
	if unit == 3 {
		return round(x * 2.54), true
	}
	return round(x), true
}

func pngDPI(dirs []Directory) (int, bool) {
	d := find(dirs, dirPNGPhys)
	if d == nil {
		return 0, false
	}
	ppu, ok := intTag(d, "Pixels Per Unit X")
	if !ok {
		return 0, false
	}
	if unit, _ := intTag(d, "Unit Specifier"); unit != 1 {
		return 0, false
	}
	return round(float64(ppu) * 0.0254), true
}

func find(dirs []Directory, name string) *Directory {
	for i := range dirs {
		if dirs[i].Name == name {
			return &dirs[i]
		}
	}
	return nil
}

func intTag(d *Directory, name string) (int, bool) {
	v, ok := d.Get(name)
	if !ok {
		return 0, false
	}
	return intValue(v)
}

func floatTag(d *Directory, name string) (float64, bool) {
	v, ok := d.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func round(f float64) int {
	return int(math.Round(f))
}
