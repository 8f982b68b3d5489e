// Package locals3 is a tiny S3-compatible server that keeps buckets as
// directories. It implements just enough of the API for the s3 storage
// backend to run in development without a real object store.
package locals3

import (
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/logging"
)

type Server struct {
	root string
}

func NewServer(root string) (*Server, error) {
	if err := os.MkdirAll(root, fs.ModePerm); err != nil {
		return nil, err
	}
	return &Server{root: root}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key := bucketKey(r)
	logging.Debug().
		Str("method", r.Method).
		Str("bucket", bucket).
		Str("key", key).
		Msg("locals3 request")

	if !validPart(bucket) || (key != "" && !validPart(key)) {
		writeError(w, http.StatusBadRequest, "InvalidURI", "bad bucket or key")
		return
	}

	bucketDir := filepath.Join(s.root, bucket)
	if key == "" {
		switch r.Method {
		case http.MethodPut:
			if err := os.MkdirAll(bucketDir, fs.ModePerm); err != nil {
				writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
				return
			}
			w.Header().Set("Location", "/"+bucket)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			s.list(w, bucket, bucketDir)
		default:
			writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "unsupported bucket operation")
		}
		return
	}

	if _, err := os.Stat(bucketDir); err != nil {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}
	path := filepath.Join(bucketDir, key)

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error())
			return
		}
		if err := os.WriteFile(path, body, 0644); err != nil {
			writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		info, err := os.Stat(path)
		if err != nil {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			f, err := os.Open(path)
			if err != nil {
				return
			}
			defer f.Close()
			io.Copy(w, f)
		}
	case http.MethodDelete:
		err := os.Remove(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "unsupported object operation")
	}
}

type listBucketResult struct {
	XMLName     xml.Name       `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string         `xml:"Name"`
	KeyCount    int            `xml:"KeyCount"`
	MaxKeys     int            `xml:"MaxKeys"`
	IsTruncated bool           `xml:"IsTruncated"`
	Contents    []listedObject `xml:"Contents"`
}

type listedObject struct {
	Key          string `xml:"Key"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

// Everything comes back in one page.
func (s *Server) list(w http.ResponseWriter, bucket, bucketDir string) {
	entries, err := os.ReadDir(bucketDir)
	if err != nil {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}
	result := listBucketResult{Name: bucket, MaxKeys: 1000}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		result.Contents = append(result.Contents, listedObject{
			Key:          entry.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(result.Contents, func(i, j int) bool {
		return result.Contents[i].Key < result.Contents[j].Key
	})
	result.KeyCount = len(result.Contents)
	writeXML(w, http.StatusOK, result)
}

type errorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeXML(w, status, errorResponse{Code: code, Message: msg})
}

func writeXML(w http.ResponseWriter, status int, v any) {
	out, err := xml.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, xml.Header)
	w.Write(out)
}

func bucketKey(r *http.Request) (string, string) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	slashIdx := strings.IndexByte(p, '/')
	if slashIdx == -1 {
		return p, ""
	}
	return p[:slashIdx], strings.ReplaceAll(p[slashIdx+1:], "/", "~")
}

func validPart(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "\\\x00")
}
