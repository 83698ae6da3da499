package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// readPNGPhys scans the chunks before the image data for pHYs.
func readPNGPhys(data []byte) (*Directory, error) {
	i := len(pngSignature)
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		typ := string(data[i+4 : i+8])
		end := i + 8 + length + 4
		if length < 0 || end > len(data) {
			return nil, errors.New("truncated chunk " + typ)
		}
		switch typ {
		case "pHYs":
			if length < 9 {
				return nil, errors.New("short pHYs chunk")
			}
			body := data[i+8 : i+8+length]
			return &Directory{Name: dirPNGPhys, Tags: []Tag{
				{Name: "Pixels Per Unit X", Value: int(binary.BigEndian.Uint32(body[0:4]))},
				{Name: "Pixels Per Unit Y", Value: int(binary.BigEndian.Uint32(body[4:8]))},
				{Name: "Unit Specifier", Value: int(body[8])},
			}}, nil
		case "IDAT", "IEND":
			return nil, nil
		}
		i = end
	}
	return nil, nil
}
