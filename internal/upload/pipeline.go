package upload

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// Pipeline uploads a batch of picked files with bounded concurrency.
type Pipeline struct {
	uploader    Uploader
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewPipeline creates a pipeline. concurrency below 1 means one at a time.
func NewPipeline(uploader Uploader, concurrency int, metrics *observability.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		uploader:    uploader,
		concurrency: max(concurrency, 1),
		metrics:     metrics,
		logger:      logger,
	}
}

// UploadAll uploads every file. A failing file never aborts the batch; it
// is listed in Failures and its task keeps showing the local preview. Tasks
// are returned in input order.
func (p *Pipeline) UploadAll(ctx context.Context, files []File, opts Options) model.BatchResult {
	ctx, span := observability.StartSpan(ctx, "upload.batch",
		observability.AttrFileCount.Int(len(files)),
	)
	defer span.End()

	tasks := make([]*Task, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, f := range files {
		task := NewTask()
		tasks[i] = task
		if err := task.Preview(f.LocalURI); err != nil {
			errs[i] = err
			continue
		}

		g.Go(func() error {
			errs[i] = p.uploadOne(gctx, task, f, opts)
			return nil
		})
	}
	_ = g.Wait()

	result := model.BatchResult{Tasks: make([]model.UploadTask, len(tasks))}
	for i, task := range tasks {
		result.Tasks[i] = task.Snapshot()
		if errs[i] != nil {
			result.Failures = append(result.Failures, model.UploadFailure{
				TaskID:   result.Tasks[i].ID,
				LocalURI: files[i].LocalURI,
				Reason:   errs[i].Error(),
			})
			continue
		}
		result.Uploaded++
	}
	result.FailedCount = len(result.Failures)

	if result.FailedCount > 0 {
		p.metrics.RecordUploadBatchFailure()
		p.logger.Warn("upload batch partially failed",
			zap.Int("files", len(files)),
			zap.Int("failed", result.FailedCount),
		)
	}
	return result
}

func (p *Pipeline) uploadOne(ctx context.Context, task *Task, f File, opts Options) error {
	if err := task.Start(); err != nil {
		return err
	}
	res, err := p.uploader.Upload(ctx, f, opts)
	if err != nil {
		p.metrics.RecordUpload("failed", f.Size())
		// Refused only when the task already left Uploading.
		if terr := task.Fail(err); terr != nil {
			p.logger.Debug("upload task transition refused",
				zap.String("task_id", task.Snapshot().ID),
				zap.Error(terr),
			)
		}
		return err
	}
	if err := task.Complete(res); err != nil {
		p.metrics.RecordUpload("failed", f.Size())
		return err
	}
	p.metrics.RecordUpload("done", f.Size())
	return nil
}
