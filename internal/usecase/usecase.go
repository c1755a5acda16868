package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/halodocs/workbench/internal/dispatch"
	"github.com/halodocs/workbench/internal/domain"
	"github.com/halodocs/workbench/internal/workspace"

	"github.com/google/uuid"
)

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
}

type TaskStore interface {
	CreateTask(p domain.CreateTaskParams) (string, error)
	Task(id string) (domain.Task, bool)
	UpdateStatus(id string, newStatus domain.TaskStatus, errReason string)
	RequestCancel(id string) error
	ByIdempotencyKey(key string) (domain.Task, bool)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, taskID string) error
}

type usecase struct {
	taskTTL   time.Duration
	taskStore TaskStore
	fileStore FileStore
	queue     TaskQueue
	ws        *workspace.Workspace
}

func New(
	taskTTL time.Duration,
	taskStore TaskStore,
	fileStore FileStore,
	queue TaskQueue,
	ws *workspace.Workspace,
) *usecase {
	return &usecase{
		taskTTL:   taskTTL,
		taskStore: taskStore,
		fileStore: fileStore,
		queue:     queue,
		ws:        ws,
	}
}

func (uc *usecase) SetActiveFile(ctx context.Context, up workspace.Upload, acceptedTypes []string) (workspace.FileView, error) {
	return uc.ws.SetActiveFile(ctx, up, acceptedTypes)
}

func (uc *usecase) ActiveFile(ctx context.Context) (workspace.FileView, error) {
	view, ok := uc.ws.Active()
	if !ok {
		return workspace.FileView{}, domain.ErrNoActiveFile
	}
	return view, nil
}

func (uc *usecase) ClearActiveFile(ctx context.Context) {
	uc.ws.ClearActiveFile(ctx)
}

func (uc *usecase) RestorePrevious(ctx context.Context) (workspace.FileView, error) {
	return uc.ws.RestorePrevious(ctx)
}

// Dispatch snapshots the active file into task-owned storage, records the
// task and enqueues it. The buffer handed to the pipeline is a clone; the
// workspace's own copy stays valid.
func (uc *usecase) Dispatch(ctx context.Context, opts dispatch.Options, idempotencyKey string) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	active, ok := uc.ws.Active()
	if !ok {
		return "", domain.ErrNoActiveFile
	}

	if idempotencyKey != "" {
		if existingTask, ok := uc.taskStore.ByIdempotencyKey(idempotencyKey); ok {
			switch existingTask.Status {
			case domain.StatusFailed, domain.StatusExpired, domain.StatusCancelled:
				return "", fmt.Errorf("task status: %s", existingTask.Status)
			default:
				return existingTask.ID, nil
			}
		}
	}

	buf, ok := uc.ws.CloneBuffer()
	if !ok {
		return "", domain.ErrNoActiveFile
	}

	inputFilename := "inputs/" + uuid.NewString() + filepath.Ext(active.Name)
	written, hash, err := uc.fileStore.Save(ctx, bytes.NewReader(buf), inputFilename, int64(len(buf)))
	if err != nil {
		return "", fmt.Errorf("save task input: %w", err)
	}

	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		_ = uc.fileStore.Delete(ctx, inputFilename)
		return "", fmt.Errorf("encode options: %w", err)
	}

	taskID, err := uc.taskStore.CreateTask(
		domain.CreateTaskParams{
			Op:             string(opts.Op),
			OptionsJSON:    string(optionsJSON),
			OriginalName:   active.Name,
			InputFilename:  inputFilename,
			FileSize:       written,
			FileHashSHA:    hash,
			IdempotencyKey: idempotencyKey,
			TTL:            uc.taskTTL,
		})
	if err != nil {
		_ = uc.fileStore.Delete(ctx, inputFilename)
		return "", fmt.Errorf("create task: %w", err)
	}

	if existingTask, ok := uc.taskStore.Task(taskID); ok {
		if existingTask.InputFilename != inputFilename {
			// CreateTask deduplicated onto an earlier task; this copy
			// of the input is redundant.
			if err := uc.fileStore.Delete(ctx, inputFilename); err != nil {
				slog.Warn("delete duplicated file", slog.String("error", err.Error()))
			}
		}
	}

	slog.Debug("enqueue task", slog.String("task_id", taskID))
	if err := uc.queue.Enqueue(ctx, taskID); err != nil {
		slog.Error("enqueue failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		uc.taskStore.UpdateStatus(taskID, domain.StatusFailed, err.Error())
		return "", fmt.Errorf("enqueue: %w", err)
	}

	return taskID, nil
}

func (uc *usecase) GetStatus(ctx context.Context, taskID string) (domain.StatusResponse, error) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return domain.StatusResponse{}, domain.ErrTaskNotFound
	}

	resp := domain.StatusResponse{
		ID:       task.ID,
		Status:   task.Status,
		Progress: task.Progress,
	}

	switch task.Status {
	case domain.StatusDone:
		resp.DownloadURL = fmt.Sprintf("/download/%s", task.ID)
		resp.FileName = task.ResultFilename
	case domain.StatusFailed, domain.StatusExpired, domain.StatusCancelled:
		resp.Error = task.Error
	}

	return resp, nil
}

func (uc *usecase) Cancel(ctx context.Context, taskID string) error {
	err := uc.taskStore.RequestCancel(taskID)
	if errors.Is(err, domain.ErrTaskNotReady) {
		// Already terminal; cancelling is a no-op, not a failure.
		return nil
	}
	return err
}

func (uc *usecase) GetResultFile(ctx context.Context, taskID string) (domain.DownloadResult, error) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return domain.DownloadResult{}, domain.ErrTaskNotFound
	}

	switch task.Status {
	case domain.StatusDone:
		if task.ResultFilename == "" {
			return domain.DownloadResult{}, fmt.Errorf("empty result path")
		}

		f, size, err := uc.fileStore.Open(ctx, task.ResultFilename)
		if err != nil {
			return domain.DownloadResult{}, fmt.Errorf("open result: %w", err)
		}

		return domain.DownloadResult{
			FileName: filepath.Base(task.ResultFilename),
			Size:     size,
			Content:  f,
		}, nil

	case domain.StatusFailed:
		return domain.DownloadResult{}, domain.ErrTaskFailed

	case domain.StatusExpired:
		return domain.DownloadResult{}, domain.ErrTaskExpired

	case domain.StatusCancelled:
		return domain.DownloadResult{}, domain.ErrTaskCancelled

	default:
		return domain.DownloadResult{}, domain.ErrTaskNotReady
	}
}
