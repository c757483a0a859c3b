package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	vanity "github.com/teranos/vanity-id"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
)

// multipartMemory is how much of an upload is buffered before spilling to disk
const multipartMemory = 32 << 20

const uploadIDLength = 12

// allowedExtensions is the container allowlist for uploads
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// HandleUpload handles POST /api/uploads. The multipart field "video" is
// stored under uploads/ and its reference returned as the job source.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Storage not configured")
		return
	}
	limit := int64(s.cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the configured limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'video' field in multipart form")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusBadRequest, "unsupported file type: "+ext)
		return
	}

	tmp, err := os.CreateTemp("", "reel-upload-*"+ext)
	if err != nil {
		writeErr(w, errors.Wrap(err, "failed to buffer upload"))
		return
	}
	defer os.Remove(tmp.Name())
	size, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		writeErr(w, errors.Wrap(err, "failed to buffer upload"))
		return
	}

	name, err := vanity.GenerateRandomID(uploadIDLength)
	if err != nil {
		writeErr(w, errors.Wrap(err, "failed to name upload"))
		return
	}
	key := "uploads/" + time.Now().UTC().Format("20060102") + "/" + name + ext
	ref, err := s.store.Put(r.Context(), tmp.Name(), key)
	if err != nil {
		s.logger.Warnw("Failed to store upload", logger.FieldFile, header.Filename, logger.FieldError, err)
		writeErr(w, err)
		return
	}
	s.logger.Infow("Upload stored",
		logger.FieldFile, header.Filename,
		logger.FieldSize, size,
		"source", ref,
	)
	_ = writeJSON(w, http.StatusCreated, map[string]interface{}{
		"source":   ref,
		"filename": header.Filename,
		"size":     size,
	})
}
