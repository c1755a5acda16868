package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/halodocs/workbench/internal/domain"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	StreamName   = "WORKBENCH_TASKS"
	consumerName = "workbench-task-consumer"
)

type TaskStore interface {
	Task(id string) (domain.Task, bool)
	UpdateStatus(id string, newStatus domain.TaskStatus, errReason string)
	SetProgress(id string, progress int)
	SetResult(id string, resultFilename string)
	CancelRequested(id string) bool
	ExpiredTasks(now time.Time) []string
	DeleteExpired(now time.Time, ttl time.Duration) int
}

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// Consumer pulls dispatched task IDs off JetStream, materializes each task
// from the stores and runs it. One terminal outcome is recorded per task; a
// message is acked once that outcome exists, so the queue never re-runs a
// finished task.
type Consumer struct {
	taskCleanupInterval time.Duration
	taskTTL             time.Duration
	js                  nats.JetStreamContext
	subject             string
	size                int
	taskStore           TaskStore
	fileStore           FileStore
	runner              *Runner
	processTimeout      time.Duration

	done chan struct{}
	sub  *nats.Subscription
}

func NewConsumer(
	taskCleanupInterval time.Duration,
	taskTTL time.Duration,
	js nats.JetStreamContext,
	subject string,
	size int,
	taskStore TaskStore,
	fileStore FileStore,
	runner *Runner,
	processTimeout time.Duration,
) *Consumer {
	if size <= 0 {
		size = 1
	}

	return &Consumer{
		taskCleanupInterval: taskCleanupInterval,
		taskTTL:             taskTTL,
		js:                  js,
		subject:             subject,
		size:                size,
		taskStore:           taskStore,
		fileStore:           fileStore,
		runner:              runner,
		processTimeout:      processTimeout,
		done:                make(chan struct{}, size),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	_, err := c.js.AddConsumer(StreamName, &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: c.subject,
		MaxAckPending: c.size * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		slog.Error("JetStream AddConsumer", slog.String("error", err.Error()))
		return
	}

	sub, err := c.js.PullSubscribe(c.subject, consumerName)
	if err != nil {
		slog.Error("JetStream PullSubscribe", slog.String("error", err.Error()))
		return
	}
	c.sub = sub

	for range c.size {
		go func() {
			defer func() { c.done <- struct{}{} }()
			c.runWorker(ctx)
		}()
	}

	slog.Info("task consumer is running",
		slog.Int("workers", c.size),
		slog.String("subject", c.subject),
	)
}

func (c *Consumer) Stop(ctx context.Context) {
	<-ctx.Done()

	for range c.size {
		<-c.done
	}

	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
		}
	}

	slog.Info("task consumer stopped")
}

func (c *Consumer) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping")
			return
		default:
		}

		msgs, err := c.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			taskID := string(msg.Data)
			slog.Debug("got message", slog.String("task_id", taskID))

			if err := c.process(ctx, taskID); err != nil {
				slog.Error("process",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
			}

			// Terminal outcomes are recorded on the task itself; the
			// protocol has no redelivery-based retries.
			if err := msg.Ack(); err != nil {
				slog.Warn("NATS Ack", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, taskID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	task, found := c.taskStore.Task(taskID)
	if !found {
		return domain.ErrTaskNotFound
	}

	switch task.Status {
	case domain.StatusExpired:
		return domain.ErrTaskExpired
	case domain.StatusDone, domain.StatusFailed, domain.StatusCancelled:
		return nil
	}

	if c.taskStore.CancelRequested(taskID) {
		c.taskStore.UpdateStatus(taskID, domain.StatusCancelled, "cancelled before start")
		return nil
	}

	var opts Options
	if err := json.Unmarshal([]byte(task.OptionsJSON), &opts); err != nil {
		c.taskStore.UpdateStatus(taskID, domain.StatusFailed, "malformed options: "+err.Error())
		return nil
	}

	slog.Info("process start",
		slog.String("task_id", taskID),
		slog.String("op", task.Op),
	)
	c.taskStore.UpdateStatus(taskID, domain.StatusProcessing, "")

	input, err := c.readInput(ctx, task.InputFilename)
	if err != nil {
		c.taskStore.UpdateStatus(taskID, domain.StatusFailed, "read input: "+err.Error())
		return nil
	}

	resultName := resultFilename(task, opts)
	sink := NewStoreSink(c.taskStore, c.fileStore, resultName)

	runCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
	defer cancel()

	ev := c.runner.Run(runCtx, Task{
		ID:      taskID,
		Op:      OpKind(task.Op),
		Input:   input,
		Options: opts,
	}, sink)

	if ev.Type == EventError && c.taskStore.CancelRequested(taskID) {
		c.taskStore.UpdateStatus(taskID, domain.StatusCancelled, ev.Message)
	}

	slog.Info("process finished",
		slog.String("task_id", taskID),
		slog.String("terminal", string(ev.Type)),
	)
	return nil
}

func (c *Consumer) readInput(ctx context.Context, filename string) ([]byte, error) {
	rc, _, err := c.fileStore.Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// StartCleanup periodically expires overdue tasks, removes their stored
// files and finally drops long-dead task records.
func (c *Consumer) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.taskCleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				expired := c.taskStore.ExpiredTasks(now)
				if len(expired) > 0 {
					slog.Info("cleanup", slog.Int("count_of_expired_tasks", len(expired)))
				}

				for _, id := range expired {
					task, ok := c.taskStore.Task(id)
					if !ok {
						continue
					}
					if err := c.fileStore.Delete(ctx, task.InputFilename); err != nil {
						slog.Warn("cleanup input file", slog.String("error", err.Error()))
					}
					if task.ResultFilename != "" {
						if err := c.fileStore.Delete(ctx, task.ResultFilename); err != nil {
							slog.Warn("cleanup result file", slog.String("error", err.Error()))
						}
					}
				}
				if n := c.taskStore.DeleteExpired(now, 2*c.taskTTL); n > 0 {
					slog.Info("cleanup tasks map", slog.Int("deleted_tasks", n))
				}

				if err := c.fileStore.CleanupOlderThan(ctx, 2*c.taskTTL); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("cleanup old files", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// resultFilename derives the stored name of a task's output: a fresh UUID
// plus the original base name with the extension the operation produces.
func resultFilename(task domain.Task, opts Options) string {
	base := filepath.Base(task.OriginalName)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = "output"
	}

	ext := strings.ToLower(filepath.Ext(base))
	switch OpKind(task.Op) {
	case OpImageConvert:
		if opts.Image != nil && opts.Image.Format != "" {
			ext = "." + strings.ToLower(opts.Image.Format)
		}
	case OpPDFMerge, OpPDFSplit, OpPDFCompress, OpPDFExtract:
		ext = ".pdf"
	case OpMediaTranscode:
		if opts.Media != nil && opts.Media.Container != "" {
			ext = "." + strings.ToLower(opts.Media.Container)
		}
	}
	if ext == "" {
		ext = ".bin"
	}

	return fmt.Sprintf("results/%s_%s%s", uuid.NewString(), name, ext)
}
