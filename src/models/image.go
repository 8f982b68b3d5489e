package models

import "time"

// Image is one stored upload. Filename is generated by the server and is the
// only key used on disk; OriginalName is whatever the client sent and is for
// display only.
type Image struct {
	ID           int       `db:"id"`
	Filename     string    `db:"filename"`
	OriginalName string    `db:"original_name"`
	Size         int64     `db:"size"`
	UploadTime   time.Time `db:"upload_time"`
	FileType     string    `db:"file_type"`
}

// SizeKB is the size in whole kilobytes, rounded down, as shown in listings.
func (img *Image) SizeKB() int64 {
	return img.Size / 1024
}
