package website

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/imgurl"
	"git.handmade.network/hmn/imghost/src/models"
	"git.handmade.network/hmn/imghost/src/templates"
)

type apiImage struct {
	ID           int    `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	SizeKB       int64  `json:"size_kb"`
	UploadTime   string `json:"upload_time"`
	FileType     string `json:"file_type"`
	Url          string `json:"url"`
}

type apiPagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	HasPrev    bool `json:"has_prev"`
	HasNext    bool `json:"has_next"`
	TotalPages int  `json:"total_pages"`
}

type listingData struct {
	Images     []apiImage    `json:"images"`
	Pagination apiPagination `json:"pagination"`
}

type listingResponse struct {
	Status string      `json:"status"`
	Data   listingData `json:"data"`
}

type deleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      int    `json:"id"`
}

func imageToApi(img *models.Image) apiImage {
	return apiImage{
		ID:           img.ID,
		Filename:     img.Filename,
		OriginalName: img.OriginalName,
		Size:         img.Size,
		SizeKB:       img.SizeKB(),
		UploadTime:   img.UploadTime.UTC().Format(time.RFC3339),
		FileType:     img.FileType,
		Url:          imgurl.ImagePath(img.Filename),
	}
}

// A missing page parameter means page 1.
func parsePage(c *RequestContext) (int, error) {
	raw := strings.TrimSpace(c.Req.URL.Query().Get("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, images.Malformed("Invalid page number")
	}
	return page, nil
}

func parseImageID(c *RequestContext) (int, error) {
	id, err := strconv.Atoi(c.PathParams["id"])
	if err != nil || id < 1 {
		return 0, images.ErrNotFound
	}
	return id, nil
}

func ImagesList(c *RequestContext) ResponseData {
	page, err := parsePage(c)
	if err != nil {
		return c.ApiError(err)
	}

	result, err := c.Images.List(c, page)
	if err != nil {
		return c.ApiError(err)
	}

	data := listingData{
		Images: make([]apiImage, 0, len(result.Images)),
		Pagination: apiPagination{
			Total:      result.Total,
			Page:       result.Page,
			PerPage:    result.PerPage,
			HasPrev:    result.HasPrev,
			HasNext:    result.HasNext,
			TotalPages: result.TotalPages,
		},
	}
	for _, img := range result.Images {
		data.Images = append(data.Images, imageToApi(img))
	}

	var res ResponseData
	res.Header().Set("Cache-Control", "no-store")
	res.WriteJson(listingResponse{Status: "success", Data: data}, c.Perf)
	return res
}

func Gallery(c *RequestContext) ResponseData {
	page, err := parsePage(c)
	if err != nil {
		return c.ApiError(err)
	}

	result, err := c.Images.List(c, page)
	if err != nil {
		return c.ApiError(err)
	}

	imgs, pagination := templates.PageToTemplate(result)

	type galleryData struct {
		templates.BaseData
		Images     []templates.Image
		Pagination templates.Pagination
	}

	var res ResponseData
	res.MustWriteTemplate("gallery.html", galleryData{
		BaseData:   getBaseData(c, "Gallery"),
		Images:     imgs,
		Pagination: pagination,
	}, c.Perf)
	return res
}

func DeleteImage(c *RequestContext) ResponseData {
	id, err := parseImageID(c)
	if err != nil {
		return c.ApiError(err)
	}

	img, err := c.Images.Delete(c, id)
	if err != nil {
		return c.ApiError(err)
	}

	var res ResponseData
	res.WriteJson(deleteResponse{
		Status:  "success",
		Message: "Image deleted",
		ID:      img.ID,
	}, c.Perf)
	return res
}

// DeleteImageSubmit is the form version of DeleteImage for the gallery page.
func DeleteImageSubmit(c *RequestContext) ResponseData {
	id, err := parseImageID(c)
	if err != nil {
		return FourOhFour(c)
	}

	_, err = c.Images.Delete(c, id)
	if err != nil {
		status, _ := errorStatus(err)
		if status == http.StatusNotFound {
			return FourOhFour(c)
		}
		return c.ApiError(err)
	}

	return c.Redirect(imgurl.BuildGallery(1), http.StatusSeeOther)
}
