package website

import (
	"errors"
	"net/http"

	"git.handmade.network/hmn/imghost/src/images"
)

func ImageFile(c *RequestContext) ResponseData {
	filename := c.PathParams["filename"]

	obj, err := c.Images.Open(c, filename)
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			return FourOhFour(c)
		}
		return c.ApiError(err)
	}

	var res ResponseData
	res.Header().Set("Content-Type", images.ContentType(filename))
	res.Header().Set("X-Content-Type-Options", "nosniff")
	// Stored names are random and never reused.
	res.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if !obj.ModTime.IsZero() {
		res.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}
	res.SetStream(obj, obj.Size)
	return res
}
