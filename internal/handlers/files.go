package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/nimeninja/ingestd/internal/storage"
)

// DefaultMaxImageDimension caps the w and h query parameters.
const DefaultMaxImageDimension = 2000

// maxResizePixels caps the decoded size of an image that may be resized.
// Decoding allocates in proportion to the pixel count, not the file size.
const maxResizePixels = 40_000_000

const subtitleMimeType = "application/x-subrip"

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".avif": true,
	}

	allowedImageTypes = []string{
		"image/jpeg",
		"image/png",
		"image/webp",
		"image/gif",
		"image/avif",
	}
)

// FilesHandler serves published uploads at GET /api/files/{path...}.
// Images can be resized on the fly with the w and h query parameters.
type FilesHandler struct {
	backend      storage.Backend
	maxDimension int
}

// NewFilesHandler creates a FilesHandler reading from backend.
func NewFilesHandler(backend storage.Backend, maxDimension int) *FilesHandler {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxImageDimension
	}
	return &FilesHandler{backend: backend, maxDimension: maxDimension}
}

func (h *FilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("path")
	if !validFileKey(key) {
		slog.Warn("file access outside storage root rejected", "path", key)
		sendError(w, "Access denied", "ACCESS_DENIED", http.StatusForbidden)
		return
	}

	rc, err := h.backend.Open(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			sendError(w, "File not found", "NOT_FOUND", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidKey):
			sendError(w, "Access denied", "ACCESS_DENIED", http.StatusForbidden)
		default:
			slog.Error("failed to open file", "key", key, "error", err)
			sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		}
		return
	}
	defer rc.Close()

	w.Header().Set("X-Content-Type-Options", "nosniff")

	ext := strings.ToLower(path.Ext(key))
	switch {
	case ext == ".srt":
		w.Header().Set("Content-Type", subtitleMimeType)
		if _, err := io.Copy(w, rc); err != nil {
			slog.Debug("subtitle stream interrupted", "key", key, "error", err)
		}
	case imageExtensions[ext]:
		h.serveImage(w, r, key, rc)
	default:
		sendError(w, "Only image or subtitle files are allowed", "FORBIDDEN_TYPE", http.StatusForbidden)
	}
}

func (h *FilesHandler) serveImage(w http.ResponseWriter, r *http.Request, key string, rc io.Reader) {
	data, err := io.ReadAll(rc)
	if err != nil {
		slog.Error("failed to read image", "key", key, "error", err)
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	mime := mimetype.Detect(data)
	if !mimetype.EqualsAny(mime.String(), allowedImageTypes...) {
		slog.Warn("stored file is not a valid image", "key", key, "detected", mime.String())
		sendError(w, "File content is not a valid image", "INVALID_IMAGE", http.StatusForbidden)
		return
	}

	width, err := parseDimension(r.URL.Query().Get("w"))
	if err != nil {
		sendError(w, "Invalid width", "INVALID_DIMENSION", http.StatusBadRequest)
		return
	}
	height, err := parseDimension(r.URL.Query().Get("h"))
	if err != nil {
		sendError(w, "Invalid height", "INVALID_DIMENSION", http.StatusBadRequest)
		return
	}
	if width > h.maxDimension || height > h.maxDimension {
		sendError(w, fmt.Sprintf("Max width/height is %d", h.maxDimension), "INVALID_DIMENSION", http.StatusBadRequest)
		return
	}

	if width == 0 && height == 0 {
		w.Header().Set("Content-Type", mime.String())
		w.Write(data)
		return
	}

	if mime.Is("image/avif") {
		sendError(w, "Resizing AVIF images is not supported", "UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType)
		return
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		slog.Warn("failed to read image header", "key", key, "error", err)
		sendError(w, "File content is not a valid image", "INVALID_IMAGE", http.StatusForbidden)
		return
	}
	if cfg.Width*cfg.Height > maxResizePixels {
		slog.Warn("image too large to resize", "key", key, "width", cfg.Width, "height", cfg.Height)
		sendError(w, "Image too large to resize", "IMAGE_TOO_LARGE", http.StatusRequestEntityTooLarge)
		return
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("failed to decode image", "key", key, "error", err)
		sendError(w, "File content is not a valid image", "INVALID_IMAGE", http.StatusForbidden)
		return
	}

	var buf bytes.Buffer
	contentType, err := encodeImage(&buf, resizeImage(src, width, height), mime.String())
	if err != nil {
		slog.Error("failed to encode resized image", "key", key, "error", err)
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(buf.Bytes())
}

// validFileKey rejects keys that could address anything outside the storage root.
func validFileKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// parseDimension returns 0 for an empty value.
func parseDimension(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid dimension %q", v)
	}
	return n, nil
}

// resizeImage scales src to width x height. With one side given the other keeps
// the aspect ratio; with both, src is center-cropped to the target aspect first.
func resizeImage(src image.Image, width, height int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	crop := b

	switch {
	case width > 0 && height > 0:
		if sw*height > sh*width {
			cw := sh * width / height
			x0 := b.Min.X + (sw-cw)/2
			crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
		} else {
			ch := sw * height / width
			y0 := b.Min.Y + (sh-ch)/2
			crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
		}
	case width > 0:
		height = max(1, (sh*width+sw/2)/sw)
	default:
		width = max(1, (sw*height+sh/2)/sh)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// encodeImage writes img in the format of the source. WebP has no encoder in
// x/image, so resized WebP images are served as PNG.
func encodeImage(w io.Writer, img image.Image, sourceType string) (string, error) {
	switch sourceType {
	case "image/jpeg":
		return "image/jpeg", jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "image/gif":
		return "image/gif", gif.Encode(w, img, nil)
	default:
		return "image/png", png.Encode(w, img)
	}
}
