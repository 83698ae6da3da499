package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var jfifIdent = []byte("JFIF\x00")

func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

// readJFIF walks the JPEG marker segments up to the start of scan and
// returns the JFIF APP0 directory, or nil if there is none.
func readJFIF(data []byte) (*Directory, error) {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil, errors.New("marker expected")
		}
		marker := data[i+1]
		if marker == 0xFF {
			i++
			continue
		}
		// Standalone markers carry no length.
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8) {
			i += 2
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return nil, nil
		}

		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if length < 2 || i+2+length > len(data) {
			return nil, errors.New("truncated segment")
		}
		segment := data[i+4 : i+2+length]
		if marker == 0xE0 && bytes.HasPrefix(segment, jfifIdent) {
			return parseJFIF(segment)
		}
		i += 2 + length
	}
	return nil, nil
}

func parseJFIF(seg []byte) (*Directory, error) {
	if len(seg) < 14 {
		return nil, errors.New("short APP0 segment")
	}
	return &Directory{Name: dirJFIF, Tags: []Tag{
		{Name: "Version", Value: int(seg[5])<<8 | int(seg[6])},
		{Name: "Resolution Units", Value: int(seg[7])},
		{Name: "X Resolution", Value: int(binary.BigEndian.Uint16(seg[8:10]))},
		{Name: "Y Resolution", Value: int(binary.BigEndian.Uint16(seg[10:12]))},
		{Name: "Thumbnail Width Pixels", Value: int(seg[12])},
		{Name: "Thumbnail Height Pixels", Value: int(seg[13])},
	}}, nil
}
