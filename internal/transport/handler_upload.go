package transport

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/inkline/internal/upload"
	"github.com/pitabwire/inkline/model"
)

const (
	multipartMemory = 32 << 20
	multipartSlack  = 1 << 20
)

// uploadBatch accepts a multipart form with one or more "files" parts, an
// optional "local_uri" value per file in the same order, and an optional
// "folder" naming a sub-folder of the caller's upload folder. Picker
// rejections answer 422; per-file upload failures are reported in the body.
func (h *handlers) uploadBatch(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config.Uploads
	// Without a per-file limit the picker is the only size check.
	if cfg.MaxBytes > 0 && cfg.MaxFiles > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, multipartSlack+cfg.MaxBytes*int64(cfg.MaxFiles+1))
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRequestError(w, r, model.NewUploadRejectedError([]model.FieldError{{
				Field: "files", Code: "FILE_TOO_LARGE", Message: "the upload exceeds the allowed size",
			}}))
			return
		}
		writeRequestError(w, r, model.NewBadRequestError("invalid multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	files, err := readParts(r.MultipartForm)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	if len(files) == 0 {
		writeRequestError(w, r, model.NewBadRequestError("no files in request"))
		return
	}

	picked, err := upload.Pick(files, upload.ConstraintsFromConfig(cfg))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}

	folder, err := uploadFolder(cfg.Folder, SubjectFrom(r), r.FormValue("folder"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	result := h.deps.Uploads.UploadAll(r.Context(), picked, upload.Options{
		Folder: folder,
		Preset: cfg.UploadPreset,
	})
	WriteJSON(w, http.StatusOK, result)
}

// uploadFolder places uploads under base and the subject id, so one caller
// can never write into another's prefix. requested may add one sub-folder.
func uploadFolder(base, subjectID, requested string) (string, error) {
	if requested == "" {
		return path.Join(base, subjectID), nil
	}
	if !validFolderName(requested) {
		return "", model.NewBadRequestError("folder must be a single name of letters, digits, '-' or '_'")
	}
	return path.Join(base, subjectID, requested), nil
}

func validFolderName(name string) bool {
	if len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func readParts(form *multipart.Form) ([]upload.File, error) {
	headers := form.File["files"]
	uris := form.Value["local_uri"]
	files := make([]upload.File, 0, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, model.NewBadRequestError("could not read file " + fh.Filename)
		}
		f := upload.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			LocalURI:    fh.Filename,
			Data:        data,
		}
		if f.ContentType == "application/octet-stream" {
			f.ContentType = ""
		}
		if i < len(uris) && uris[i] != "" {
			f.LocalURI = uris[i]
		}
		files = append(files, f)
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// usernameAvailability answers once the debounce window for the caller has
// passed. A newer check by the same caller supersedes this one.
func (h *handlers) usernameAvailability(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Availability.Await(r.Context(), SubjectFrom(r), chi.URLParam(r, "candidate"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
