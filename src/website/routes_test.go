package website

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/filestore"
	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/images/imagestest"
	"git.handmade.network/hmn/imghost/src/templates"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	templates.Init()
	os.Exit(m.Run())
}

type testSite struct {
	handler http.Handler
	svc     *images.Service
	meta    *imagestest.MemStore
	files   *filestore.Local
}

func newTestSite(t *testing.T) *testSite {
	files, err := filestore.NewLocal(filepath.Join(t.TempDir(), "images"))
	require.Nil(t, err)
	meta := imagestest.NewMemStore()
	svc := images.NewService(meta, files, config.UploadConfig{
		MaxFileSize:       config.DefaultMaxFileSize,
		AllowedExtensions: config.DefaultAllowedExtensions,
		MaxConcurrent:     2,
	})
	return &testSite{
		handler: NewWebsiteRoutes(svc, 2),
		svc:     svc,
		meta:    meta,
		files:   files,
	}
}

func (s *testSite) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.Nil(t, err)
		_, err = part.Write(content)
		require.Nil(t, err)
	} else {
		require.Nil(t, w.WriteField("other", "value"))
	}
	require.Nil(t, w.Close())
	return &body, w.FormDataContentType()
}

func (s *testSite) upload(t *testing.T, filename string, content []byte) (*httptest.ResponseRecorder, map[string]any) {
	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := s.do(req)
	return rec, decode(t, rec)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	var result map[string]any
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &result), "body: %s", rec.Body.String())
	return result
}

func TestUpload(t *testing.T) {
	site := newTestSite(t)
	content := bytes.Repeat([]byte{0x89}, 2048)

	rec, result := site.upload(t, "Cat Picture.PNG", content)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, "success", result["status"])
	assert.NotEmpty(t, result["message"])
	assert.Equal(t, float64(1), result["id"])
	assert.Equal(t, "Cat Picture.PNG", result["original_name"])
	assert.Equal(t, float64(2048), result["size"])
	assert.Equal(t, "png", result["file_type"])
	assert.GreaterOrEqual(t, result["processing_time"], float64(0))

	filename := result["filename"].(string)
	assert.Regexp(t, `^[0-9a-f]{32}\.png$`, filename)
	assert.Equal(t, "/images/"+filename, result["url"])

	onDisk, err := os.ReadFile(filepath.Join(site.files.Root(), filename))
	require.Nil(t, err)
	assert.Equal(t, content, onDisk)
}

func TestUploadRejected(t *testing.T) {
	for _, tc := range []struct {
		name    string
		field   string
		file    string
		content []byte
		status  int
		message string
	}{
		{"unsupported extension", "file", "notes.txt", []byte("hello"), http.StatusBadRequest, "Unsupported file format. Allowed: jpg, jpeg, png, gif"},
		{"no extension", "file", "png", []byte("hello"), http.StatusBadRequest, "Unsupported file format. Allowed: jpg, jpeg, png, gif"},
		{"too large", "file", "big.gif", make([]byte, config.DefaultMaxFileSize+1), http.StatusBadRequest, "File exceeds the maximum size of 5MB"},
		{"missing field", "", "", nil, http.StatusBadRequest, "No file was uploaded"},
		{"empty file", "file", "empty.jpg", []byte{}, http.StatusBadRequest, "The uploaded file is empty"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			site := newTestSite(t)
			body, contentType := multipartBody(t, tc.field, tc.file, tc.content)
			req := httptest.NewRequest(http.MethodPost, "/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := site.do(req)
			assert.Equal(t, tc.status, rec.Code)
			result := decode(t, rec)
			assert.Equal(t, "error", result["status"])
			assert.Equal(t, tc.message, result["message"])

			count, err := site.meta.Count(context.Background())
			require.Nil(t, err)
			assert.Equal(t, 0, count)

			entries, err := os.ReadDir(site.files.Root())
			require.Nil(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestUploadNotMultipart(t *testing.T) {
	site := newTestSite(t)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"file": "nope"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := site.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestUploadBodyTooLarge(t *testing.T) {
	site := newTestSite(t)
	site.svc.MaxFileSize = 100

	t.Run("declared length", func(t *testing.T) {
		body, contentType := multipartBody(t, "file", "big.png", make([]byte, 300))
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := site.do(req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "File exceeds the maximum size of 100 bytes", decode(t, rec)["message"])
	})
	t.Run("unknown length", func(t *testing.T) {
		body, contentType := multipartBody(t, "file", "big.png", make([]byte, 300))
		req := httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(body))
		req.ContentLength = -1
		req.Header.Set("Content-Type", contentType)
		rec := site.do(req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestUploadInsertFailure(t *testing.T) {
	site := newTestSite(t)
	site.meta.FailInserts = true

	rec, result := site.upload(t, "photo.jpg", []byte("jpeg bytes"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", result["status"])
	assert.NotContains(t, result["message"], imagestest.ErrInjected.Error())

	entries, err := os.ReadDir(site.files.Root())
	require.Nil(t, err)
	assert.Empty(t, entries)
}

func TestImagesList(t *testing.T) {
	site := newTestSite(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	site.meta.Now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	for i := 0; i < 12; i++ {
		rec, _ := site.upload(t, fmt.Sprintf("img%02d.gif", i), []byte(fmt.Sprintf("gif %d", i)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	get := func(query string) (*httptest.ResponseRecorder, map[string]any) {
		rec := site.do(httptest.NewRequest(http.MethodGet, "/images-list"+query, nil))
		return rec, decode(t, rec)
	}

	rec, result := get("")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", result["status"])
	data := result["data"].(map[string]any)
	imgs := data["images"].([]any)
	require.Len(t, imgs, 10)
	first := imgs[0].(map[string]any)
	assert.Equal(t, "img11.gif", first["original_name"])
	assert.Equal(t, float64(0), first["size_kb"])
	assert.Equal(t, "/images/"+first["filename"].(string), first["url"])
	assert.Equal(t, "2024-01-01T00:12:00Z", first["upload_time"])

	pagination := data["pagination"].(map[string]any)
	assert.Equal(t, map[string]any{
		"total":       float64(12),
		"page":        float64(1),
		"per_page":    float64(10),
		"has_prev":    false,
		"has_next":    true,
		"total_pages": float64(2),
	}, pagination)

	_, result = get("?page=2")
	data = result["data"].(map[string]any)
	imgs = data["images"].([]any)
	require.Len(t, imgs, 2)
	assert.Equal(t, "img00.gif", imgs[1].(map[string]any)["original_name"])
	assert.Equal(t, false, data["pagination"].(map[string]any)["has_next"])
	assert.Equal(t, true, data["pagination"].(map[string]any)["has_prev"])

	rec, result = get("?page=9")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, result["data"].(map[string]any)["images"])

	for _, bad := range []string{"?page=abc", "?page=0", "?page=-2", "?page=1.5"} {
		rec, result = get(bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Equal(t, "Invalid page number", result["message"], bad)
	}
}

func TestImagesListEmpty(t *testing.T) {
	site := newTestSite(t)
	rec := site.do(httptest.NewRequest(http.MethodGet, "/images-list", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, []any{}, data["images"])
	pagination := data["pagination"].(map[string]any)
	assert.Equal(t, float64(0), pagination["total_pages"])
	assert.Equal(t, false, pagination["has_next"])
}

func TestImagesListHugePage(t *testing.T) {
	site := newTestSite(t)
	site.upload(t, "only.png", []byte("png"))

	for _, page := range []string{"3", "922337203685477581", "9223372036854775807"} {
		rec := site.do(httptest.NewRequest(http.MethodGet, "/images-list?page="+page, nil))
		require.Equal(t, http.StatusOK, rec.Code, page)

		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, []any{}, data["images"], page)
		pagination := data["pagination"].(map[string]any)
		assert.Equal(t, false, pagination["has_next"], page)
		assert.Equal(t, true, pagination["has_prev"], page)
		assert.Equal(t, float64(1), pagination["total_pages"], page)

		rec = site.do(httptest.NewRequest(http.MethodGet, "/gallery?page="+page, nil))
		assert.Equal(t, http.StatusOK, rec.Code, page)
	}
}

func TestImageFile(t *testing.T) {
	site := newTestSite(t)
	content := []byte("GIF89a pretend")
	_, result := site.upload(t, "anim.gif", content)
	url := result["url"].(string)

	rec := site.do(httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(content)), rec.Header().Get("Content-Length"))
	assert.Equal(t, content, rec.Body.Bytes())

	rec = site.do(httptest.NewRequest(http.MethodHead, url, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fmt.Sprint(len(content)), rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestImageFileNotFound(t *testing.T) {
	site := newTestSite(t)
	secret := filepath.Join(filepath.Dir(site.files.Root()), "secret.png")
	require.Nil(t, os.WriteFile(secret, []byte("secret"), 0644))
	require.Nil(t, os.WriteFile(filepath.Join(site.files.Root(), ".hidden.png"), []byte("hidden"), 0644))

	for _, path := range []string{
		"/images/missing.png",
		"/images/..",
		"/images/../secret.png",
		"/images/..%2fsecret.png",
		"/images/.hidden.png",
		"/images/%00.png",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.URL.RawPath = ""
		req.URL.Path = mustUnescape(t, path)
		rec := site.do(req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "secret", path)
		assert.NotContains(t, rec.Body.String(), "hidden", path)
	}
}

func mustUnescape(t *testing.T, path string) string {
	u, err := http.NewRequest(http.MethodGet, "http://imghost.test"+path, nil)
	require.Nil(t, err)
	return u.URL.Path
}

func TestDeleteImage(t *testing.T) {
	site := newTestSite(t)
	_, result := site.upload(t, "bye.jpeg", []byte("jpeg"))
	id := int(result["id"].(float64))
	filename := result["filename"].(string)

	rec := site.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/images-list/%d", id), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deleted := decode(t, rec)
	assert.Equal(t, "success", deleted["status"])
	assert.Equal(t, float64(id), deleted["id"])

	_, err := os.Stat(filepath.Join(site.files.Root(), filename))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	rec = site.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/images-list/%d", id), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Image not found", decode(t, rec)["message"])

	rec = site.do(httptest.NewRequest(http.MethodGet, "/images/"+filename, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteImageMissingFile(t *testing.T) {
	site := newTestSite(t)
	_, result := site.upload(t, "gone.png", []byte("png"))
	id := int(result["id"].(float64))
	require.Nil(t, os.Remove(filepath.Join(site.files.Root(), result["filename"].(string))))

	rec := site.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/images-list/%d", id), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	count, err := site.meta.Count(context.Background())
	require.Nil(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteImageSubmit(t *testing.T) {
	site := newTestSite(t)
	_, result := site.upload(t, "form.png", []byte("png"))
	id := int(result["id"].(float64))

	rec := site.do(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/delete/%d", id), nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/gallery", rec.Header().Get("Location"))

	rec = site.do(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/delete/%d", id), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGallery(t *testing.T) {
	site := newTestSite(t)
	_, result := site.upload(t, "<script>x.png", []byte("png"))

	req := httptest.NewRequest(http.MethodGet, "/gallery", nil)
	req.Header.Set("Accept", "text/html")
	rec := site.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, result["filename"].(string))
	assert.Contains(t, body, fmt.Sprintf("/delete/%d", int(result["id"].(float64))))
	assert.Contains(t, body, "&lt;script&gt;x.png")
	assert.NotContains(t, body, "<script>x")

	rec = site.do(httptest.NewRequest(http.MethodGet, "/gallery?page=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexAndStatic(t *testing.T) {
	site := newTestSite(t)

	rec := site.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-upload-url="/upload"`)
	assert.Contains(t, rec.Body.String(), `data-allowed="jpg,jpeg,png,gif"`)

	rec = site.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "imghost.images")

	rec = site.do(httptest.NewRequest(http.MethodGet, "/static/nope.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotFound(t *testing.T) {
	site := newTestSite(t)

	rec := site.do(httptest.NewRequest(http.MethodGet, "/nothing/here", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])

	req := httptest.NewRequest(http.MethodGet, "/nothing/here", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec = site.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not found")

	rec = site.do(httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadConcurrencyLimit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	router := &Router{}
	routes := RouteBuilder{
		Router:      router,
		Middlewares: []Middleware{trackRequestPerf, limitConcurrency(1)},
	}
	routes.POST(regexp.MustCompile("^/slow$"), func(c *RequestContext) ResponseData {
		close(entered)
		<-release
		return ResponseData{StatusCode: http.StatusNoContent}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slow", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slow", nil).WithContext(ctx))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "The server is busy, please try again", decode(t, rec)["message"])

	close(release)
	wg.Wait()
}

func TestPanicCatcher(t *testing.T) {
	router := &Router{}
	routes := RouteBuilder{
		Router:      router,
		Middlewares: []Middleware{logContextErrorsMiddleware, panicCatcherMiddleware},
	}
	routes.GET(regexp.MustCompile("^/boom$"), func(c *RequestContext) ResponseData {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	result := decode(t, rec)
	assert.Equal(t, "error", result["status"])
	assert.NotContains(t, result["message"], "boom")
}

func TestLogContextErrors(t *testing.T) {
	err1 := errors.New("test error 1")
	err2 := errors.New("test error 2")

	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Print("sanity check")

	assert.Contains(t, buf.String(), "sanity check")

	router := &Router{}
	routes := RouteBuilder{
		Router: router,
		Middlewares: []Middleware{
			func(h Handler) Handler {
				return func(c *RequestContext) (res ResponseData) {
					c.Logger = &logger
					return h(c)
				}
			},
			logContextErrorsMiddleware,
		},
	}

	routes.GET(regexp.MustCompile("^/test$"), func(c *RequestContext) ResponseData {
		return c.ErrorResponse(http.StatusInternalServerError, err1, err2)
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/test")
	if assert.Nil(t, err) {
		defer res.Body.Close()

		t.Logf("Log contents: %s", buf.String())

		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

		assert.Contains(t, buf.String(), err1.Error())
		assert.Contains(t, buf.String(), err2.Error())
	}
}

func TestErrorStatus(t *testing.T) {
	for _, tc := range []struct {
		err     error
		status  int
		message string
	}{
		{images.Malformed("Invalid page number"), http.StatusBadRequest, "Invalid page number"},
		{images.TooLarge(5 * 1024 * 1024), http.StatusBadRequest, "File exceeds the maximum size of 5MB"},
		{images.ErrNotFound, http.StatusNotFound, "Image not found"},
		{fmt.Errorf("wrapped: %w", images.ErrNotFound), http.StatusNotFound, "Image not found"},
		{NewSafeError(errors.New("db down"), "Could not save"), http.StatusInternalServerError, "Could not save"},
		{errors.New("secret internals"), http.StatusInternalServerError, "Internal server error"},
	} {
		status, message := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.message, message, tc.err.Error())
	}
}

func TestCappedBody(t *testing.T) {
	b := &cappedBody{ReadCloser: io.NopCloser(strings.NewReader("0123456789")), remaining: 10}
	data, err := io.ReadAll(b)
	assert.Nil(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.False(t, b.exceeded)

	b = &cappedBody{ReadCloser: io.NopCloser(strings.NewReader("0123456789")), remaining: 4}
	data, err = io.ReadAll(b)
	assert.True(t, errors.Is(err, errBodyTooLarge))
	assert.Equal(t, "0123", string(data))
	assert.True(t, b.exceeded)
}
