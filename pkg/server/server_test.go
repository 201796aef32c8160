package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/menta2k/photo-album/pkg/auth"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/library"
	"github.com/menta2k/photo-album/pkg/metrics"
	"github.com/menta2k/photo-album/pkg/persist"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/storage"
	"github.com/menta2k/photo-album/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const token = "secret-token"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := log.New(io.Discard)

	blobs, err := storage.NewLocalStore(t.TempDir(), "http://photos.test")
	require.NoError(t, err)
	proc := processing.NewProcessor()
	transformer := geometry.NewWithConfig(proc, geometry.DefaultConfig())

	reg := metrics.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	transformer.SetObserver(m)

	authn, err := auth.NewStaticTokens(auth.Account{
		Token: token,
		User:  types.User{ID: "u1", Email: "ann@example.com", Name: "Ann"},
	})
	require.NoError(t, err)

	lib := library.New(persist.NewMemoryStore(), blobs, transformer, proc, library.Options{Logger: logger})
	return New(Options{
		Library:     lib,
		Auth:        authn,
		Transformer: transformer,
		Processor:   proc,
		Files:       blobs.Handler(),
		Metrics:     m,
		Gatherer:    reg,
		Logger:      logger,
	})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 3), uint8(y * 3), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, file []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, method, target string, body io.Reader, contentType string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, s *Server, method, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return do(t, s, method, target, body, "application/json", true)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) apperr.Code {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCrop(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, pngBytes(t, 80, 60), map[string]string{
		"x": "10", "y": "5.4", "width": "40", "height": "30", "rotation": "0",
	})

	rec := do(t, s, http.MethodPost, "/api/crop", body, ct, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "40", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "30", rec.Header().Get("X-Image-Height"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
}

func TestCropRotatedQuarterTurnSwapsSides(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, pngBytes(t, 80, 60), map[string]string{
		"x": "0", "y": "0", "width": "60", "height": "80", "rotation": "90",
	})

	rec := do(t, s, http.MethodPost, "/api/crop", body, ct, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "60", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "80", rec.Header().Get("X-Image-Height"))
}

func TestCropErrors(t *testing.T) {
	s := newTestServer(t)
	img := pngBytes(t, 20, 20)

	tests := []struct {
		name   string
		file   []byte
		fields map[string]string
		status int
		code   apperr.Code
	}{
		{"missing crop", img, nil, http.StatusBadRequest, apperr.ErrCodeInvalidCrop},
		{"zero width", img, map[string]string{"x": "0", "y": "0", "width": "0", "height": "5"}, http.StatusBadRequest, apperr.ErrCodeInvalidCrop},
		{"negative offset", img, map[string]string{"x": "-1", "y": "0", "width": "5", "height": "5"}, http.StatusBadRequest, apperr.ErrCodeInvalidCrop},
		{"not a number", img, map[string]string{"x": "left", "y": "0", "width": "5", "height": "5"}, http.StatusBadRequest, apperr.ErrCodeInvalidCrop},
		{"bad rotation", img, map[string]string{"x": "0", "y": "0", "width": "5", "height": "5", "rotation": "NaN"}, http.StatusBadRequest, apperr.ErrCodeInvalidRotation},
		{"missing file", nil, map[string]string{"x": "0", "y": "0", "width": "5", "height": "5"}, http.StatusBadRequest, apperr.ErrCodeInvalidInput},
		{"not an image", []byte("hello"), map[string]string{"x": "0", "y": "0", "width": "5", "height": "5"}, http.StatusUnsupportedMediaType, apperr.ErrCodeDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.file, tt.fields)
			rec := do(t, s, http.MethodPost, "/api/crop", body, ct, false)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestCropUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	s.opts.MaxUploadBytes = 128

	body, ct := multipartBody(t, pngBytes(t, 50, 50), map[string]string{"x": "0", "y": "0", "width": "5", "height": "5"})
	rec := do(t, s, http.MethodPost, "/api/crop", body, ct, false)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apperr.ErrCodeImageTooLarge, errorCode(t, rec))
}

func TestSuggest(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, pngBytes(t, 80, 60), map[string]string{"aspect": "1:1"})

	rec := do(t, s, http.MethodPost, "/api/suggest", body, ct, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got suggestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.CropArea{X: 10, Y: 0, Width: 60, Height: 60}, got.Crop)
	assert.Equal(t, 1.0, got.Aspect)
	assert.Equal(t, 80, got.Width)
	assert.Equal(t, 60, got.Height)

	body, ct = multipartBody(t, pngBytes(t, 10, 10), map[string]string{"aspect": "wide"})
	rec = do(t, s, http.MethodPost, "/api/suggest", body, ct, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/albums", nil, "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.ErrCodeUnauthorized, errorCode(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"u1","email":"ann@example.com","name":"Ann"}`, rec.Body.String())
}

func TestAlbumRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/albums", map[string]string{"name": "Trip", "description": "Alps"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created types.Album
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Trip", created.Name)

	rec = doJSON(t, s, http.MethodGet, "/api/albums", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var albums []types.Album
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &albums))
	require.Len(t, albums, 1)

	rec = doJSON(t, s, http.MethodPatch, "/api/albums/"+created.ID, map[string]string{"name": "Alps 2026"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated types.Album
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Alps 2026", updated.Name)
	assert.Equal(t, "Alps", updated.Description)

	rec = doJSON(t, s, http.MethodGet, "/api/albums/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/albums", map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/albums", strings.NewReader("{"), "application/json", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/albums/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/albums/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.ErrCodeAlbumNotFound, errorCode(t, rec))
}

func TestPhotoRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/albums", map[string]string{"name": "Trip"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var a types.Album
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))

	body, ct := multipartBody(t, pngBytes(t, 80, 60), map[string]string{
		"x": "0", "y": "0", "width": "40", "height": "30",
	})
	rec = do(t, s, http.MethodPost, "/api/albums/"+a.ID+"/photos", body, ct, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p types.Photo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 40, p.Width)
	assert.Equal(t, 30, p.Height)
	require.True(t, strings.HasPrefix(p.Src, "http://photos.test/photos/"), p.Src)

	// The stored file is served under /photos/.
	rec = do(t, s, http.MethodGet, strings.TrimPrefix(p.Src, "http://photos.test"), nil, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/albums/"+a.ID+"/photos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var photos []types.Photo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &photos))
	require.Len(t, photos, 1)
	assert.Equal(t, p.ID, photos[0].ID)

	rec = doJSON(t, s, http.MethodGet, "/api/albums/"+a.ID, nil)
	var withCover types.Album
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &withCover))
	assert.Equal(t, p.Src, withCover.CoverImage)

	rec = doJSON(t, s, http.MethodDelete, "/api/photos/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/photos/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.ErrCodePhotoNotFound, errorCode(t, rec))

	body, ct = multipartBody(t, pngBytes(t, 10, 10), nil)
	rec = do(t, s, http.MethodPost, "/api/albums/missing/photos", body, ct, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearUserData(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/albums", map[string]string{"name": "Trip"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/me/data", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/albums", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAlbumRoutesDisabledWithoutLibrary(t *testing.T) {
	s := New(Options{Logger: log.New(io.Discard)})
	rec := do(t, s, http.MethodGet, "/api/albums", nil, "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodGet, "/healthz", nil, "", false)

	rec := do(t, s, http.MethodGet, "/metrics", nil, "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `photoalbum_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := map[apperr.Code]int{
		apperr.ErrCodeInvalidInput:   http.StatusBadRequest,
		apperr.ErrCodeInvalidFormat:  http.StatusBadRequest,
		apperr.ErrCodeUnauthorized:   http.StatusUnauthorized,
		apperr.ErrCodePhotoNotFound:  http.StatusNotFound,
		apperr.ErrCodeAlbumNotFound:  http.StatusNotFound,
		apperr.ErrCodeOutOfBounds:    http.StatusUnprocessableEntity,
		apperr.ErrCodeDecode:         http.StatusUnsupportedMediaType,
		apperr.ErrCodeImageTooLarge:  http.StatusRequestEntityTooLarge,
		apperr.ErrCodePersist:        http.StatusInternalServerError,
		apperr.ErrCodeEncode:         http.StatusInternalServerError,
		apperr.ErrCodeInternal:       http.StatusInternalServerError,
		apperr.ErrCodeNetwork:        http.StatusBadGateway,
		apperr.ErrCodeUnsupported:    http.StatusNotImplemented,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(apperr.New(code, "x")), code)
	}

	wrapped := fmt.Errorf("loading: %w", apperr.New(apperr.ErrCodeAlbumNotFound, "album a1"))
	assert.Equal(t, http.StatusNotFound, statusFor(wrapped))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(Options{Logger: log.New(io.Discard)})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln, 5*time.Second, 5*time.Second, 5*time.Second)
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
