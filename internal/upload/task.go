package upload

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pitabwire/inkline/model"
)

// Task walks one file through Idle, Pending (local preview), Uploading and
// Done. A failed upload moves to Failed, which still displays the local file
// and may be retried.
type Task struct {
	mu    sync.Mutex
	state model.UploadTask
}

// NewTask creates an idle task.
func NewTask() *Task {
	return &Task{state: model.UploadTask{ID: uuid.NewString(), Status: model.UploadIdle}}
}

var transitions = map[model.UploadStatus][]model.UploadStatus{
	model.UploadIdle:      {model.UploadPending},
	model.UploadPending:   {model.UploadUploading},
	model.UploadUploading: {model.UploadDone, model.UploadFailed},
	model.UploadFailed:    {model.UploadUploading},
}

func (t *Task) move(to model.UploadStatus) error {
	for _, next := range transitions[t.state.Status] {
		if next == to {
			t.state.Status = to
			return nil
		}
	}
	return fmt.Errorf("upload: illegal transition %s -> %s", t.state.Status, to)
}

// Preview shows localURI while nothing is uploaded yet.
func (t *Task) Preview(localURI string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.move(model.UploadPending); err != nil {
		return err
	}
	t.state.LocalURI = localURI
	return nil
}

// Start marks the upload as running.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.move(model.UploadUploading); err != nil {
		return err
	}
	t.state.Error = ""
	return nil
}

// Complete records the remote location.
func (t *Task) Complete(r Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.move(model.UploadDone); err != nil {
		return err
	}
	t.state.RemoteURL = r.SecureURL
	t.state.PublicID = r.PublicID
	return nil
}

// Fail records cause and falls back to the local preview.
func (t *Task) Fail(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.move(model.UploadFailed); err != nil {
		return err
	}
	t.state.Error = cause.Error()
	return nil
}

// Snapshot returns the current task state.
func (t *Task) Snapshot() model.UploadTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
