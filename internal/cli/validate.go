package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/rs/zerolog/log"
)

// ValidateImagePath checks that path is a readable, supported image file
// and returns its absolute path.
func ValidateImagePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image not found: %s", path)
		}
		return "", fmt.Errorf("failed to access image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not an image", path)
	}
	if !imageprep.IsSupported(path) {
		return "", fmt.Errorf("unsupported image type %q (use JPEG or PNG)", filepath.Ext(path))
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// HandleScanError logs a scan failure with a message matched to its
// category and exits.
func HandleScanError(err error) {
	var uploadErr *scanerr.UploadError
	if errors.As(err, &uploadErr) && uploadErr.Err == nil {
		log.Fatal().Msg(uploadErr.Message)
	}

	f := scanerr.ClassifyError(err)
	switch f.Category {
	case scanerr.CategorySessionExpired:
		log.Fatal().Str("action", f.Action).Msg("Session expired. Set TASTEBUDDY_TOKEN or sign in again")
	case scanerr.CategoryRateLimited:
		log.Fatal().Str("action", f.Action).Msg(f.Message)
	case scanerr.CategoryTransientServer, scanerr.CategoryConnectivity:
		log.Fatal().Str("action", f.Action).Str("detail", f.Detail).Msg(f.Message)
	default:
		log.Fatal().Err(err).Msg(f.Message)
	}
	os.Exit(1)
}
