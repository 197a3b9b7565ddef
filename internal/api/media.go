package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/pipeline"
	"github.com/dunamismax/imagekit/internal/storage"
	"github.com/dustin/go-humanize"
)

const (
	formFile      = "file"
	formOptions   = "options"
	formWatermark = "watermark"

	multipartOverhead = 1 << 20
)

type uploadRejection struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Uploads  []uploadedFile    `json:"uploads"`
	Rejected []uploadRejection `json:"rejected,omitempty"`
}

type uploadedFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
	storage.UploadResult
}

// handleUpload stores every valid "file" part. Invalid files are rejected one by one.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBody := s.limits.MaxFileBytes*int64(max(1, s.limits.MaxBatchItems)) + multipartOverhead
	form, err := s.parseMultipart(w, r, maxBody)
	if err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	defer form.RemoveAll()

	headers := form.File[formFile]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field %q is required", formFile))
		return
	}
	if s.limits.MaxBatchItems > 0 && len(headers) > s.limits.MaxBatchItems {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at most %d files per upload", s.limits.MaxBatchItems))
		return
	}

	var (
		resp     = uploadResponse{Uploads: []uploadedFile{}}
		firstErr error
	)
	for _, fh := range headers {
		src, err := s.readSource(fh)
		if err == nil {
			var res storage.UploadResult
			res, err = s.storage.Upload(r.Context(), src.Name, src.Data, src.MimeType)
			if err == nil {
				s.metrics.uploadBytes.Add(float64(src.Size()))
				resp.Uploads = append(resp.Uploads, uploadedFile{
					Name:         src.Name,
					MimeType:     src.MimeType,
					Size:         src.Size(),
					UploadResult: res,
				})
				continue
			}
			s.logger.Printf("upload failed name=%q err=%v", fh.Filename, err)
		}
		if firstErr == nil {
			firstErr = err
		}
		resp.Rejected = append(resp.Rejected, uploadRejection{Name: fh.Filename, Error: err.Error()})
	}

	if len(resp.Uploads) == 0 {
		status := statusForError(firstErr, http.StatusBadGateway)
		if errors.Is(firstErr, errStorageUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleTransform runs one operation synchronously and streams the encoded image back.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r, 2*s.limits.MaxFileBytes+multipartOverhead)
	if err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	defer form.RemoveAll()

	files := form.File[formFile]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("exactly one %q part is required", formFile))
		return
	}
	src, err := s.readSource(files[0])
	if err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}

	opts, err := s.readOptions(form)
	if err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}

	result, err := s.transformer.Transform(r.Context(), src, opts)
	if err != nil {
		s.metrics.transformsTotal.WithLabelValues(string(opts.Kind), "error").Inc()
		s.logger.Printf("transform failed name=%q op=%s err=%v", src.Name, opts.Kind, err)
		writeError(w, statusForError(err, http.StatusInternalServerError), err)
		return
	}
	s.metrics.transformsTotal.WithLabelValues(string(opts.Kind), "completed").Inc()
	s.logger.Printf(
		"transform done name=%q op=%s in=%s out=%s ratio=%.1f",
		src.Name, opts.Kind, humanize.IBytes(uint64(src.Size())), humanize.IBytes(uint64(result.Size)), result.CompressionRatio,
	)

	name := pipeline.OutputName(src.Name, string(opts.Kind), result.Format)
	h := w.Header()
	h.Set("Content-Type", result.MimeType)
	h.Set("Content-Length", strconv.Itoa(result.Size))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("X-Original-Size", strconv.Itoa(src.Size()))
	h.Set("X-Compression-Ratio", strconv.FormatFloat(result.CompressionRatio, 'f', 2, 64))
	h.Set("X-Image-Width", strconv.Itoa(result.Width))
	h.Set("X-Image-Height", strconv.Itoa(result.Height))
	if result.Passes > 0 {
		h.Set("X-Compression-Passes", strconv.Itoa(result.Passes))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request, maxBody int64) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, fmt.Errorf("%w: request body exceeds %s", domain.ErrFileTooLarge, humanize.IBytes(uint64(maxBody)))
		}
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	return r.MultipartForm, nil
}

// readSource loads one part and validates it. The MIME type comes from the part header
// and falls back to content sniffing when the client sent none.
func (s *Server) readSource(fh *multipart.FileHeader) (domain.SourceImage, error) {
	name := filepath.Base(fh.Filename)
	if s.limits.MaxFileBytes > 0 && fh.Size > s.limits.MaxFileBytes {
		return domain.SourceImage{}, fmt.Errorf(
			"%w: %s exceeds the %s limit",
			domain.ErrFileTooLarge,
			humanize.IBytes(uint64(fh.Size)),
			humanize.IBytes(uint64(s.limits.MaxFileBytes)),
		)
	}

	data, err := readPart(fh)
	if err != nil {
		return domain.SourceImage{}, err
	}

	mime := fh.Header.Get("Content-Type")
	if mime == "" || domain.NormalizeMimeType(mime) == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	src := domain.SourceImage{Name: name, MimeType: domain.NormalizeMimeType(mime), Data: data}
	if err := domain.ValidateSource(src, s.limits); err != nil {
		return domain.SourceImage{}, err
	}
	return src, nil
}

func (s *Server) readOptions(form *multipart.Form) (domain.TransformOptions, error) {
	raw := form.Value[formOptions]
	if len(raw) != 1 {
		return domain.TransformOptions{}, fmt.Errorf("%w: exactly one %q field is required", domain.ErrInvalidOptions, formOptions)
	}

	var opts domain.TransformOptions
	if err := json.Unmarshal([]byte(raw[0]), &opts); err != nil {
		return domain.TransformOptions{}, fmt.Errorf("%w: %v", domain.ErrInvalidOptions, err)
	}

	// A watermark image may arrive as its own part instead of inline base64.
	if marks := form.File[formWatermark]; len(marks) > 0 && opts.Watermark != nil && opts.Watermark.Image != nil {
		data, err := readPart(marks[0])
		if err != nil {
			return domain.TransformOptions{}, fmt.Errorf("%w: %v", domain.ErrResourceLoad, err)
		}
		img := *opts.Watermark.Image
		img.Data = data
		wm := *opts.Watermark
		wm.Image = &img
		opts.Watermark = &wm
	}
	return opts, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read part %q: %w", fh.Filename, err)
	}
	return data, nil
}
