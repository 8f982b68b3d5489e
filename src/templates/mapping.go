package templates

import (
	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/imgurl"
	"git.handmade.network/hmn/imghost/src/models"
)

func ImageToTemplate(img *models.Image) Image {
	return Image{
		ID:           img.ID,
		Filename:     img.Filename,
		OriginalName: img.OriginalName,
		Size:         img.Size,
		SizeKB:       img.SizeKB(),
		UploadTime:   img.UploadTime,
		FileType:     img.FileType,

		Url:       imgurl.BuildImage(img.Filename),
		DeleteUrl: imgurl.BuildDeleteImage(img.ID),
	}
}

func PageToTemplate(page *images.Page) ([]Image, Pagination) {
	result := make([]Image, 0, len(page.Images))
	for _, img := range page.Images {
		result = append(result, ImageToTemplate(img))
	}

	pagination := Pagination{
		Page:       page.Page,
		TotalPages: page.TotalPages,
		Total:      page.Total,
	}
	if page.HasPrev {
		pagination.PreviousUrl = imgurl.BuildGallery(page.Page - 1)
	}
	if page.HasNext {
		pagination.NextUrl = imgurl.BuildGallery(page.Page + 1)
	}
	return result, pagination
}
