package templates

import "time"

type BaseData struct {
	Title       string
	AccentColor string // hex without the leading #, used to derive the page palette

	HomepageUrl string
	GalleryUrl  string
}

// Limits shown on the upload page and enforced by the server.
type UploadLimits struct {
	MaxFileSize       int64
	AllowedExtensions []string
	UploadUrl         string
	ListUrl           string
}

type Image struct {
	ID           int
	Filename     string
	OriginalName string
	Size         int64
	SizeKB       int64
	UploadTime   time.Time
	FileType     string

	Url       string
	DeleteUrl string
}

type Pagination struct {
	Page       int
	TotalPages int
	Total      int

	PreviousUrl string
	NextUrl     string
}
