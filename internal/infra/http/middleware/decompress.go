package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/agencyhub/api/pkg/apierror"
)

// DecompressConfig bounds request body decompression.
type DecompressConfig struct {
	// MaxCompressedSize caps the encoded body.
	MaxCompressedSize int64
	// MaxDecompressedSize caps the decoded body.
	MaxDecompressedSize int64
	// MaxRatio rejects bodies that expand more than this factor.
	MaxRatio float64
}

// DefaultDecompressConfig suits analysis inputs, which are small JSON maps.
func DefaultDecompressConfig() DecompressConfig {
	return DecompressConfig{
		MaxCompressedSize:   1 << 20,
		MaxDecompressedSize: 8 << 20,
		MaxRatio:            100,
	}
}

var errDecompressLimit = errors.New("decompressed body exceeds limit")

// Decompress decodes gzip and zstd request bodies. Other encodings get 415.
func Decompress(cfg DecompressConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
			if enc == "" || enc == "identity" || !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}
			reqID := GetRequestID(r.Context())
			if enc != "gzip" && enc != "zstd" {
				apierror.New(http.StatusUnsupportedMediaType, apierror.CodeBadRequest,
					fmt.Sprintf("Unsupported Content-Encoding %q", enc)).WriteJSONWithRequestID(w, reqID)
				return
			}

			body, err := decodeBody(r.Body, enc, cfg)
			if err != nil {
				if errors.Is(err, errDecompressLimit) {
					apierror.RequestTooLarge().WriteJSONWithRequestID(w, reqID)
					return
				}
				apierror.BadRequest("Invalid compressed request body").WriteJSONWithRequestID(w, reqID)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			next.ServeHTTP(w, r)
		})
	}
}

func decodeBody(body io.ReadCloser, enc string, cfg DecompressConfig) ([]byte, error) {
	defer body.Close()

	compressed, err := io.ReadAll(io.LimitReader(body, cfg.MaxCompressedSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(compressed)) > cfg.MaxCompressedSize {
		return nil, errDecompressLimit
	}
	if len(compressed) == 0 {
		return nil, nil
	}

	var rd io.Reader
	switch enc {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = zr
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(compressed),
			zstd.WithDecoderMaxMemory(uint64(cfg.MaxDecompressedSize)), //nolint:gosec // positive size
			zstd.WithDecoderConcurrency(1),
		)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = zr
	}

	limit := cfg.MaxDecompressedSize
	if byRatio := int64(cfg.MaxRatio * float64(len(compressed))); cfg.MaxRatio > 0 && byRatio < limit {
		limit = byRatio
	}
	out, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, errDecompressLimit
	}
	return out, nil
}
