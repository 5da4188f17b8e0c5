package utils

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/logging"
)

// rasterExtensions are the formats imaging can decode.
var rasterExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff"}

const thumbnailQuality = 80

// IsRasterImage reports whether filename has a decodable image extension.
func IsRasterImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range rasterExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// GenerateThumbnail scales the picture at src to fit maxWidth x maxHeight,
// writes it as a JPEG named by a fresh UUID inside dir and returns its path.
// Transparent areas are flattened onto white.
func GenerateThumbnail(src, dir string, maxWidth, maxHeight int) (string, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return "", fmt.Errorf("invalid thumbnail bounds %dx%d", maxWidth, maxHeight)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory %s: %w", dir, err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode picture %s: %w", src, err)
	}
	fitted := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	b := fitted.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), fitted, b.Min, 1.0)

	dest := filepath.Join(dir, uuid.NewString()+".jpg")
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create thumbnail %s: %w", tmp, err)
	}
	err = imaging.Encode(f, flat, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write thumbnail for %s: %w", src, err)
	}

	logging.Log.Named("thumbnails").Debug("generated thumbnail",
		zap.String("source", src),
		zap.String("thumbnail", dest),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))
	return dest, nil
}
