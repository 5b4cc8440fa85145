package model

// UploadStatus is the lifecycle phase of an UploadTask.
type UploadStatus string

// Upload statuses. Pending means the local preview is shown and no upload
// has started yet.
const (
	UploadIdle      UploadStatus = "idle"
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadDone      UploadStatus = "done"
	UploadFailed    UploadStatus = "failed"
)

// UploadTask tracks one selected file from local preview to remote URL.
type UploadTask struct {
	ID        string       `json:"id"`
	LocalURI  string       `json:"local_uri"`
	RemoteURL string       `json:"remote_url,omitempty"`
	PublicID  string       `json:"public_id,omitempty"`
	Status    UploadStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
}

// DisplayURL is what the client should render: the remote URL once the
// upload is done, the local file otherwise.
func (t UploadTask) DisplayURL() string {
	if t.Status == UploadDone && t.RemoteURL != "" {
		return t.RemoteURL
	}
	return t.LocalURI
}

// UploadFailure describes one file that could not be uploaded.
type UploadFailure struct {
	TaskID   string `json:"task_id"`
	LocalURI string `json:"local_uri"`
	Reason   string `json:"reason"`
}

// BatchResult enumerates the outcome of a batch upload. Partial failure is
// reported here, never swallowed.
type BatchResult struct {
	Tasks       []UploadTask    `json:"tasks"`
	Uploaded    int             `json:"uploaded"`
	Failures    []UploadFailure `json:"failures,omitempty"`
	FailedCount int             `json:"failed_count"`
}
