package website

import (
	"net/http"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/imgurl"
)

func NewWebsiteRoutes(svc *images.Service, maxConcurrentUploads int) http.Handler {
	router := &Router{}
	routes := RouteBuilder{
		Router: router,
		Middlewares: []Middleware{
			imageServiceMiddleware(svc),
			trackRequestPerf,
			logContextErrorsMiddleware,
			panicCatcherMiddleware,
		},
	}

	routes.GET(imgurl.RegexHomepage, Index)
	routes.GET(imgurl.RegexStatic, StaticFile)

	uploads := routes.WithMiddleware(limitConcurrency(maxConcurrentUploads))
	uploads.POST(imgurl.RegexUpload, Upload)

	routes.GET(imgurl.RegexImagesList, ImagesList)
	routes.DELETE(imgurl.RegexImagesListItem, DeleteImage)
	routes.GET(imgurl.RegexGallery, Gallery)
	routes.POST(imgurl.RegexDeleteImage, DeleteImageSubmit)
	routes.GET(imgurl.RegexImage, ImageFile)

	routes.AnyMethod(imgurl.RegexCatchAll, FourOhFour)

	return router
}
