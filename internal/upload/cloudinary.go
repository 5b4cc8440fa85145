package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/pitabwire/inkline/internal/observability"
)

// CloudinaryBaseURL is the upload API root.
const CloudinaryBaseURL = "https://api.cloudinary.com/v1_1"

// CloudinaryUploader performs unsigned preset uploads against the Cloudinary
// upload API.
type CloudinaryUploader struct {
	client   *http.Client
	endpoint string
	preset   string
}

// NewCloudinaryUploader creates an uploader for cloudName using the unsigned
// preset. A nil client uses http.DefaultClient.
func NewCloudinaryUploader(client *http.Client, cloudName, preset string) *CloudinaryUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &CloudinaryUploader{
		client:   client,
		endpoint: fmt.Sprintf("%s/%s/image/upload", CloudinaryBaseURL, cloudName),
		preset:   preset,
	}
}

// WithEndpoint overrides the upload URL.
func (u *CloudinaryUploader) WithEndpoint(endpoint string) *CloudinaryUploader {
	u.endpoint = endpoint
	return u
}

type cloudinaryResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload implements Uploader.
func (u *CloudinaryUploader) Upload(ctx context.Context, f File, opts Options) (Result, error) {
	body, contentType, err := u.form(f, opts)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := u.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	var out cloudinaryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("upload: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return Result{}, fmt.Errorf("upload: cloudinary status %d: %s", resp.StatusCode, msg)
	}
	if out.SecureURL == "" {
		return Result{}, fmt.Errorf("upload: cloudinary response has no secure_url")
	}
	return Result{PublicID: out.PublicID, SecureURL: out.SecureURL}, nil
}

func (u *CloudinaryUploader) form(f File, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	preset := u.preset
	if opts.Preset != "" {
		preset = opts.Preset
	}
	if err := w.WriteField("upload_preset", preset); err != nil {
		return nil, "", err
	}
	if opts.Folder != "" {
		if err := w.WriteField("folder", opts.Folder); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
