package rewrite

import "regexp"

var googleDrivePattern = regexp.MustCompile(
	`drive\.google\.com/(?:file/d/|open\?id=|uc\?id=|drive/folders/|thumbnail\?id=)([a-zA-Z0-9_-]{28,})`,
)

// GoogleDrive rewrites Google Drive share and viewer links to the direct
// download endpoint.
type GoogleDrive struct{}

// NewGoogleDrive creates a new Google Drive rewriter.
func NewGoogleDrive() *GoogleDrive {
	return &GoogleDrive{}
}

func (GoogleDrive) Name() string {
	return "gdrive"
}

func (GoogleDrive) Rewrite(url string) (string, bool) {
	m := googleDrivePattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return "https://drive.google.com/uc?export=download&id=" + m[1], true
}
