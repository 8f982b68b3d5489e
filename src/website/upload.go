package website

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/imgurl"
)

// Parts of the multipart form beyond this are spooled to temp files.
const multipartMemory = 1 << 20

type uploadResponse struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	ID             int     `json:"id"`
	Filename       string  `json:"filename"`
	OriginalName   string  `json:"original_name"`
	Size           int64   `json:"size"`
	FileType       string  `json:"file_type"`
	Url            string  `json:"url"`
	ProcessingTime float64 `json:"processing_time"`
}

func Upload(c *RequestContext) ResponseData {
	maxBody := 2 * c.Images.MaxFileSize

	mediaType, _, err := mime.ParseMediaType(c.Req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return c.ApiError(images.Malformed("Expected a multipart/form-data request"))
	}

	// Oversized bodies are refused before the file is looked at, so the extension is never checked.
	if c.Req.ContentLength > maxBody {
		return c.ErrorResponse(http.StatusRequestEntityTooLarge, images.TooLarge(c.Images.MaxFileSize))
	}

	body := &cappedBody{ReadCloser: c.Req.Body, remaining: maxBody}
	c.Req.Body = body

	b := c.Perf.StartBlock("UPLOAD", "Parse multipart form")
	err = c.Req.ParseMultipartForm(multipartMemory)
	b.End()
	if c.Req.MultipartForm != nil {
		defer c.Req.MultipartForm.RemoveAll()
	}
	if body.exceeded {
		return c.ErrorResponse(http.StatusRequestEntityTooLarge, images.TooLarge(c.Images.MaxFileSize))
	}
	if err != nil {
		c.Logger.Debug().Err(err).Msg("failed to parse multipart form")
		return c.ApiError(images.Malformed("Could not read the uploaded form"))
	}

	file, header, err := c.Req.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return c.ApiError(images.Malformed("No file was uploaded"))
		}
		return c.ApiError(images.Malformed("Could not read the uploaded file"))
	}
	defer file.Close()

	if header.Filename == "" {
		return c.ApiError(images.Malformed("No file was uploaded"))
	}

	img, err := c.Images.Create(c, images.Upload{
		OriginalName: header.Filename,
		Size:         header.Size,
		Content:      file,
	})
	if err != nil {
		return c.ApiError(err)
	}

	var res ResponseData
	res.WriteJson(uploadResponse{
		Status:         "success",
		Message:        "File uploaded successfully",
		ID:             img.ID,
		Filename:       img.Filename,
		OriginalName:   img.OriginalName,
		Size:           img.Size,
		FileType:       img.FileType,
		Url:            imgurl.ImagePath(img.Filename),
		ProcessingTime: c.Perf.Elapsed().Seconds(),
	}, c.Perf)
	return res
}

// cappedBody fails reads once more than remaining bytes have been read and
// remembers that it did, since multipart does not preserve the error.
type cappedBody struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

var errBodyTooLarge = errors.New("request body too large")

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.ReadCloser.Read(p)
	if int64(n) > b.remaining {
		b.exceeded = true
		return int(b.remaining), errBodyTooLarge
	}
	b.remaining -= int64(n)
	return n, err
}
