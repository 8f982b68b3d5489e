package imgurl

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"git.handmade.network/hmn/imghost/src/oops"
)

var RegexHomepage = regexp.MustCompile("^/$")

func BuildHomepage() string {
	return Url("/", nil)
}

var RegexUpload = regexp.MustCompile("^/upload$")

func BuildUpload() string {
	return Url("/upload", nil)
}

var RegexImagesList = regexp.MustCompile("^/images-list$")

func BuildImagesList(page int) string {
	return Url("/images-list", pageQuery(page))
}

var RegexImagesListItem = regexp.MustCompile(`^/images-list/(?P<id>\d+)$`)

func BuildImagesListItem(id int) string {
	return Url("/images-list/"+strconv.Itoa(id), nil)
}

var RegexGallery = regexp.MustCompile("^/gallery$")

func BuildGallery(page int) string {
	return Url("/gallery", pageQuery(page))
}

var RegexDeleteImage = regexp.MustCompile(`^/delete/(?P<id>\d+)$`)

func BuildDeleteImage(id int) string {
	return Url("/delete/"+strconv.Itoa(id), nil)
}

var RegexImage = regexp.MustCompile("^/images/(?P<filename>[^/]+)$")

func BuildImage(filename string) string {
	return Url(ImagePath(filename), nil)
}

// ImagePath is the root-relative path of a stored image, regardless of the
// configured base url. API responses always use this form.
func ImagePath(filename string) string {
	if len(strings.TrimSpace(filename)) == 0 {
		panic(oops.New(nil, "Attempted to build an image url with no filename"))
	}
	return "/images/" + url.PathEscape(filename)
}

var RegexStatic = regexp.MustCompile("^/static/(?P<path>.+)$")

func BuildStatic(filepath string) string {
	filepath = strings.Trim(filepath, "/")
	if len(strings.TrimSpace(filepath)) == 0 {
		panic(oops.New(nil, "Attempted to build a /static url with no path"))
	}
	return StaticUrl(filepath, nil)
}

var RegexCatchAll = regexp.MustCompile("^")

func pageQuery(page int) []Q {
	if page < 1 {
		panic(oops.New(nil, "Invalid page number passed to url builder: %d", page))
	}
	if page == 1 {
		return nil
	}
	return []Q{{Name: "page", Value: strconv.Itoa(page)}}
}
