// Package upload takes picked media from local preview to a public URL and
// reports per-file failures of a batch.
package upload

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/model"
)

// File is one picked file held in memory.
type File struct {
	Name        string
	ContentType string
	LocalURI    string
	Data        []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Constraints limit what Pick accepts. Zero values disable a limit.
type Constraints struct {
	MaxFiles     int
	MaxBytes     int64
	AllowedTypes []string
}

// ConstraintsFromConfig builds picker constraints from the upload config.
func ConstraintsFromConfig(cfg config.UploadConfig) Constraints {
	return Constraints{
		MaxFiles:     cfg.MaxFiles,
		MaxBytes:     cfg.MaxBytes,
		AllowedTypes: cfg.AllowedTypes,
	}
}

// Pick validates a selection. Count, per-file size and content type are all
// enforced; every violation is reported in one UPLOAD_REJECTED error.
// Missing content types are sniffed from the data.
func Pick(files []File, c Constraints) ([]File, error) {
	var details []model.FieldError
	if c.MaxFiles > 0 && len(files) > c.MaxFiles {
		details = append(details, model.FieldError{
			Field:   "files",
			Code:    "TOO_MANY_FILES",
			Message: fmt.Sprintf("at most %d files may be selected, got %d", c.MaxFiles, len(files)),
		})
	}

	picked := make([]File, 0, len(files))
	for _, f := range files {
		if f.ContentType == "" {
			f.ContentType = http.DetectContentType(f.Data)
		}
		f.ContentType = baseType(f.ContentType)

		switch {
		case f.Size() == 0:
			details = append(details, model.FieldError{
				Field: f.Name, Code: "EMPTY_FILE", Message: "file is empty",
			})
		case c.MaxBytes > 0 && f.Size() > c.MaxBytes:
			details = append(details, model.FieldError{
				Field:   f.Name,
				Code:    "FILE_TOO_LARGE",
				Message: fmt.Sprintf("file is %d bytes, the limit is %d", f.Size(), c.MaxBytes),
			})
		case len(c.AllowedTypes) > 0 && !slices.Contains(c.AllowedTypes, f.ContentType):
			details = append(details, model.FieldError{
				Field:   f.Name,
				Code:    "UNSUPPORTED_TYPE",
				Message: fmt.Sprintf("content type %q is not allowed", f.ContentType),
			})
		}
		picked = append(picked, f)
	}

	if len(details) > 0 {
		return nil, model.NewUploadRejectedError(details)
	}
	return picked, nil
}

// baseType strips parameters such as charset from a media type.
func baseType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
