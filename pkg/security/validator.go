package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
)

// imageIDPattern is the full set of characters a IIIF image identifier
// may contain. Anything else is rejected before it reaches the network.
var imageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidImageID reports whether imageID is non-empty and matches the
// allowed identifier pattern.
func ValidImageID(imageID string) bool {
	return imageIDPattern.MatchString(imageID)
}

// Validator provides input and resource-limit validation for download jobs
type Validator struct {
	maxWidth  int
	maxHeight int
	maxTiles  int
}

// NewValidator creates a new validator with the given resource limits
func NewValidator(maxWidth, maxHeight, maxTiles int) *Validator {
	slog.Info("validator_init",
		"max_width", maxWidth,
		"max_height", maxHeight,
		"max_tiles", maxTiles)

	return &Validator{
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		maxTiles:  maxTiles,
	}
}

// ValidateImageID checks that an image identifier is non-empty and contains
// only letters, digits, underscores, and hyphens
func (v *Validator) ValidateImageID(imageID string) error {
	if imageID == "" {
		slog.Error("image_id_validation_failed", "reason", "empty")
		return fmt.Errorf("security: image ID cannot be empty")
	}
	if !imageIDPattern.MatchString(imageID) {
		slog.Error("image_id_validation_failed", "image_id", imageID, "reason", "invalid_characters")
		return fmt.Errorf("security: invalid image ID: %s", imageID)
	}
	return nil
}

// ValidateDimensions checks a source image's reported size against limits
func (v *Validator) ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		slog.Error("dimension_validation_failed", "width", width, "height", height, "reason", "non_positive")
		return fmt.Errorf("security: invalid image dimensions %dx%d", width, height)
	}
	if width > v.maxWidth || height > v.maxHeight {
		slog.Error("dimension_validation_failed",
			"width", width, "height", height,
			"max_width", v.maxWidth, "max_height", v.maxHeight)
		return fmt.Errorf("security: image dimensions %dx%d exceed max %dx%d",
			width, height, v.maxWidth, v.maxHeight)
	}
	return nil
}

// ValidateTileCount guards against tile grids large enough to exhaust
// memory during assembly
func (v *Validator) ValidateTileCount(count int) error {
	if count <= 0 {
		slog.Error("tile_count_validation_failed", "count", count, "reason", "non_positive")
		return fmt.Errorf("security: invalid tile count %d", count)
	}
	if count > v.maxTiles {
		slog.Error("tile_count_validation_failed", "count", count, "max_tiles", v.maxTiles)
		return fmt.Errorf("security: tile count %d exceeds max %d", count, v.maxTiles)
	}
	return nil
}

// ValidateArtifactPath checks that an artifact path stays inside the
// given work directory
func (v *Validator) ValidateArtifactPath(workDir, path string) error {
	rel, err := filepath.Rel(workDir, path)
	if err != nil {
		slog.Error("artifact_path_validation_failed", "path", path, "error", err)
		return fmt.Errorf("security: invalid artifact path: %s", path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		slog.Error("artifact_path_validation_failed", "path", path, "reason", "path_traversal")
		return fmt.Errorf("security: artifact path escapes work dir: %s", path)
	}
	return nil
}
