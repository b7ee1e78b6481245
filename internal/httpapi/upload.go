package httpapi

import (
	"fmt"
	"io"
	"mime"
	"net/http"
)

// uploadBody returns the CSV payload of a load request: the "file" part
// of a multipart form, or the raw body otherwise.
func uploadBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, nil
	}

	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: multipart upload needs a \"file\" part: %v", errBadRequest, err)
	}
	return f, nil
}
