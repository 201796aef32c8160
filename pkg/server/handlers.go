package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/menta2k/photo-album/pkg/album"
	"github.com/menta2k/photo-album/pkg/auth"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/library"
	"github.com/menta2k/photo-album/pkg/suggest"
	"github.com/menta2k/photo-album/pkg/types"
)

const multipartMemory = 8 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// upload is a parsed multipart image request
type upload struct {
	filename    string
	contentType string
	data        []byte
	form        *multipart.Form
}

func (u *upload) value(key string) string {
	if vs := u.form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		return nil, apperr.New(apperr.ErrCodeImageTooLarge, "upload exceeds %d bytes", s.opts.MaxUploadBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.New(apperr.ErrCodeImageTooLarge, "upload exceeds %d bytes", s.opts.MaxUploadBytes)
		}
		return nil, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "expected a multipart form")
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "missing file field")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "read upload")
	}
	return &upload{
		filename:    hdr.Filename,
		contentType: hdr.Header.Get("Content-Type"),
		data:        data,
		form:        r.MultipartForm,
	}, nil
}

// cropFields reads x, y, width and height. It returns nil when none of them
// is present. Fractional pixel values are rounded.
func cropFields(u *upload) (*types.CropArea, error) {
	keys := []string{"x", "y", "width", "height"}
	vals := make([]int, len(keys))
	present := 0
	for i, k := range keys {
		raw := u.value(k)
		if raw == "" {
			continue
		}
		present++
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperr.New(apperr.ErrCodeInvalidCrop, "%s must be a number, got %q", k, raw)
		}
		vals[i] = int(math.Round(f))
	}
	if present == 0 {
		return nil, nil
	}
	if u.value("width") == "" || u.value("height") == "" {
		return nil, apperr.New(apperr.ErrCodeInvalidCrop, "width and height are required with a crop")
	}
	return &types.CropArea{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

func rotationField(u *upload) (float64, error) {
	raw := u.value("rotation")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.New(apperr.ErrCodeInvalidRotation, "rotation must be a number, got %q", raw)
	}
	return v, nil
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	crop, err := cropFields(u)
	if err == nil && crop == nil {
		err = apperr.New(apperr.ErrCodeInvalidCrop, "x, y, width and height are required")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rotation, err := rotationField(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.opts.Transformer.TransformBytes(u.data, *crop, rotation)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(out.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(out.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

type suggestResponse struct {
	Crop   types.CropArea `json:"crop"`
	Aspect float64        `json:"aspect"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	aspect := s.opts.DefaultAspect
	if raw := u.value("aspect"); raw != "" {
		if aspect, err = suggest.ParseAspect(raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	img, err := s.opts.Processor.DecodeBytes(u.data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	crop, err := s.opts.Suggester.Suggest(r.Context(), img, aspect)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b := img.Bounds()
	writeJSON(w, http.StatusOK, suggestResponse{Crop: crop, Aspect: aspect, Width: b.Dx(), Height: b.Dy()})
}

func currentUser(r *http.Request) types.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) handleClearUserData(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Library.ClearUserData(r.Context(), currentUser(r).ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.opts.Library.ListAlbums(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}

type createAlbumRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.ErrCodeInvalidInput, err, "invalid JSON body")
	}
	return nil
}

func (s *Server) handleCreateAlbum(w http.ResponseWriter, r *http.Request) {
	var req createAlbumRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.opts.Library.CreateAlbum(r.Context(), currentUser(r).ID, req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAlbum(w http.ResponseWriter, r *http.Request) {
	a, err := s.opts.Library.GetAlbum(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAlbum(w http.ResponseWriter, r *http.Request) {
	var upd album.AlbumUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.opts.Library.UpdateAlbum(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAlbum(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Library.DeleteAlbum(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := s.opts.Library.PhotosForAlbum(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, photos)
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	crop, err := cropFields(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rotation, err := rotationField(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	photo, err := s.opts.Library.UploadPhoto(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), library.Upload{
		Filename:    u.filename,
		ContentType: u.contentType,
		Data:        u.data,
		Crop:        crop,
		Rotation:    rotation,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Library.DeletePhoto(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
