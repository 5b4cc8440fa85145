package upload

import (
	"bytes"
	"testing"

	"github.com/pitabwire/inkline/model"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestPick(t *testing.T) {
	c := Constraints{MaxFiles: 2, MaxBytes: 16, AllowedTypes: []string{"image/png", "image/jpeg"}}

	tests := []struct {
		name      string
		files     []File
		wantCodes []string
	}{
		{
			name:  "accepts valid files",
			files: []File{{Name: "a.png", Data: pngHeader}, {Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("x")}},
		},
		{
			name:      "too many files",
			files:     []File{{Name: "a", Data: pngHeader}, {Name: "b", Data: pngHeader}, {Name: "c", Data: pngHeader}},
			wantCodes: []string{"TOO_MANY_FILES"},
		},
		{
			name:      "too large",
			files:     []File{{Name: "big.png", ContentType: "image/png", Data: bytes.Repeat([]byte("x"), 17)}},
			wantCodes: []string{"FILE_TOO_LARGE"},
		},
		{
			name:      "empty",
			files:     []File{{Name: "empty.png", ContentType: "image/png"}},
			wantCodes: []string{"EMPTY_FILE"},
		},
		{
			name:      "unsupported type",
			files:     []File{{Name: "notes.txt", Data: []byte("hello")}},
			wantCodes: []string{"UNSUPPORTED_TYPE"},
		},
		{
			name: "reports every violation",
			files: []File{
				{Name: "a.txt", Data: []byte("hello")},
				{Name: "b.png", ContentType: "image/png", Data: bytes.Repeat([]byte("x"), 17)},
				{Name: "c.png", Data: pngHeader},
			},
			wantCodes: []string{"TOO_MANY_FILES", "UNSUPPORTED_TYPE", "FILE_TOO_LARGE"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picked, err := Pick(tt.files, c)
			if len(tt.wantCodes) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(picked) != len(tt.files) {
					t.Errorf("picked %d files, want %d", len(picked), len(tt.files))
				}
				return
			}
			ee, ok := model.AsEnvelope(err)
			if !ok || ee.Code != model.ErrUploadRejected {
				t.Fatalf("expected UPLOAD_REJECTED, got %v", err)
			}
			if len(ee.Details) != len(tt.wantCodes) {
				t.Fatalf("details = %+v, want codes %v", ee.Details, tt.wantCodes)
			}
			for i, code := range tt.wantCodes {
				if ee.Details[i].Code != code {
					t.Errorf("detail %d code = %s, want %s", i, ee.Details[i].Code, code)
				}
			}
		})
	}
}

func TestPick_sniffsAndNormalizesContentType(t *testing.T) {
	picked, err := Pick([]File{
		{Name: "a", Data: pngHeader},
		{Name: "b", ContentType: "Image/JPEG; charset=binary", Data: []byte("x")},
	}, Constraints{AllowedTypes: []string{"image/png", "image/jpeg"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked[0].ContentType != "image/png" {
		t.Errorf("sniffed type = %q, want image/png", picked[0].ContentType)
	}
	if picked[1].ContentType != "image/jpeg" {
		t.Errorf("normalized type = %q, want image/jpeg", picked[1].ContentType)
	}
}

func TestPick_noLimits(t *testing.T) {
	files := make([]File, 50)
	for i := range files {
		files[i] = File{Name: "f", Data: []byte("data")}
	}
	if _, err := Pick(files, Constraints{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
