package website

import (
	"io/fs"
	"mime"
	"path"

	"git.handmade.network/hmn/imghost/src/imgurl"
	"git.handmade.network/hmn/imghost/src/templates"
)

func getBaseData(c *RequestContext, title string) templates.BaseData {
	return templates.BaseData{
		Title:       title,
		HomepageUrl: imgurl.BuildHomepage(),
		GalleryUrl:  imgurl.BuildGallery(1),
	}
}

func Index(c *RequestContext) ResponseData {
	type indexData struct {
		templates.BaseData
		Limits templates.UploadLimits
	}

	var res ResponseData
	res.MustWriteTemplate("index.html", indexData{
		BaseData: getBaseData(c, ""),
		Limits: templates.UploadLimits{
			MaxFileSize:       c.Images.MaxFileSize,
			AllowedExtensions: c.Images.AllowedExtensions,
			UploadUrl:         imgurl.BuildUpload(),
			ListUrl:           imgurl.BuildImagesList(1),
		},
	}, c.Perf)
	return res
}

func StaticFile(c *RequestContext) ResponseData {
	name := c.PathParams["path"]
	if !fs.ValidPath(name) {
		return FourOhFour(c)
	}

	contents, err := fs.ReadFile(templates.StaticFS(), name)
	if err != nil {
		return FourOhFour(c)
	}

	var res ResponseData
	if contentType := mime.TypeByExtension(path.Ext(name)); contentType != "" {
		res.Header().Set("Content-Type", contentType)
	}
	res.Header().Set("Cache-Control", "no-cache")
	res.Write(contents)
	return res
}
