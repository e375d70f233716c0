// Package static serves files from a document root.
package static

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultChunkSize bounds how much of a file is held in memory per request.
	DefaultChunkSize = 64 * 1024

	// DefaultContentType is sent when the content type can't be probed.
	DefaultContentType = "application/octet-stream"

	indexFile = "index.html"
)

// ContentTyper probes a content type from a file name.
type ContentTyper interface {
	ContentType(name string) (string, bool)
}

// ContentTyperFunc adapts a function to ContentTyper.
type ContentTyperFunc func(name string) (string, bool)

func (f ContentTyperFunc) ContentType(name string) (string, bool) { return f(name) }

// ExtensionTyper looks the file extension up in the system MIME table.
var ExtensionTyper ContentTyper = ContentTyperFunc(func(name string) (string, bool) {
	t := mime.TypeByExtension(filepath.Ext(name))
	return t, t != ""
})

// Option configures a Handler.
type Option func(*Handler)

// WithContentTyper replaces the extension based content type lookup.
func WithContentTyper(ct ContentTyper) Option {
	return func(h *Handler) { h.typer = ct }
}

// WithChunkSize sets the copy buffer size. Non-positive sizes are ignored.
func WithChunkSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// Handler streams files below root. It keeps no per-request state.
type Handler struct {
	root      string
	typer     ContentTyper
	chunkSize int
	logger    *zap.Logger
	buffers   sync.Pool
}

// New returns a Handler serving files below root.
func New(root string, logger *zap.Logger, opts ...Option) *Handler {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	h := &Handler{
		root:      filepath.Clean(root),
		typer:     ExtensionTyper,
		chunkSize: DefaultChunkSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	size := h.chunkSize
	h.buffers.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return h
}

// Root returns the absolute document root.
func (h *Handler) Root() string { return h.root }

// Resolve maps a request path to a file system path below the root. It
// reports false when the cleaned path would leave the root.
func (h *Handler) Resolve(reqPath string) (string, bool) {
	target := filepath.Join(h.root, filepath.FromSlash(reqPath))
	rel, err := filepath.Rel(h.root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// open resolves reqPath, substitutes index.html for directories and opens
// the result. Anything that isn't a readable regular file is reported as
// os.ErrNotExist.
func (h *Handler) open(reqPath string) (*os.File, os.FileInfo, error) {
	target, ok := h.Resolve(reqPath)
	if !ok {
		return nil, nil, os.ErrNotExist
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, indexFile)
	}

	f, err := os.Open(target)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, os.ErrNotExist
	}
	return f, info, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqPath := r.URL.Path

	f, info, err := h.open(reqPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			h.logger.Debug("File not readable", zap.String("path", reqPath), zap.Error(err))
		}
		h.notFound(w, reqPath)
		return
	}
	defer f.Close()

	ct, ok := h.typer.ContentType(info.Name())
	if !ok {
		ct = DefaultContentType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	n, err := h.copy(r.Context(), w, f)
	if err != nil {
		// Headers are gone; all that's left is to stop writing.
		h.logger.Debug("Transfer aborted",
			zap.String("path", reqPath),
			zap.Int64("written", n),
			zap.Int64("size", info.Size()),
			zap.Error(err))
	}
}

// copy moves src to dst one chunk at a time, checking ctx between chunks so
// a client disconnect ends the loop promptly.
func (h *Handler) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	bp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bp)
	buf := *bp

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (h *Handler) notFound(w http.ResponseWriter, reqPath string) {
	body := []byte("Error 404: file \"" + reqPath + "\" not found.")
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusNotFound)
	w.Write(body)
}
