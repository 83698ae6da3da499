package metadata

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

type exifField struct {
	field exif.FieldName
	name  string
}

var (
	ifd0Fields = []exifField{
		{exif.ImageWidth, "Image Width"},
		{exif.ImageLength, "Image Height"},
		{exif.XResolution, "X Resolution"},
		{exif.YResolution, "Y Resolution"},
		{exif.ResolutionUnit, "Resolution Unit"},
	}
	subIFDFields = []exifField{
		{exif.PixelXDimension, "Exif Image Width"},
		{exif.PixelYDimension, "Exif Image Height"},
	}
)

// readExif returns the IFD0 and SubIFD directories. Files without EXIF
// yield no directories; that is not an error.
func readExif(data []byte) (dirs []Directory) {
	// Malformed TIFF structures can panic inside the decoder.
	defer func() {
		if recover() != nil {
			dirs = nil
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return nil
	}

	for _, group := range []struct {
		name   string
		fields []exifField
	}{
		{dirExifIFD0, ifd0Fields},
		{dirExifSubIFD, subIFDFields},
	} {
		d := Directory{Name: group.name}
		for _, f := range group.fields {
			tag, err := x.Get(f.field)
			if err != nil {
				continue
			}
			if v, ok := tagValue(tag); ok {
				d.Tags = append(d.Tags, Tag{Name: f.name, Value: v})
			}
		}
		if len(d.Tags) > 0 {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func tagValue(tag *tiff.Tag) (any, bool) {
	if tag.Count == 0 {
		return nil, false
	}
	switch tag.Format() {
	case tiff.IntVal:
		v, err := tag.Int(0)
		return v, err == nil
	case tiff.RatVal:
		num, den, err := tag.Rat2(0)
		if err != nil || den == 0 {
			return nil, false
		}
		return float64(num) / float64(den), true
	case tiff.FloatVal:
		v, err := tag.Float(0)
		return v, err == nil
	}
	return nil, false
}
