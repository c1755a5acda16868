package dispatch

import (
	"bytes"
	"context"
	"fmt"

	"github.com/halodocs/workbench/internal/domain"
)

// storeSink persists a task's event stream: progress lands on the task
// record, the done result is written to the file store before the record is
// marked done, and an error terminates the record with its message.
type storeSink struct {
	tasks          TaskStore
	files          FileStore
	resultFilename string
}

func NewStoreSink(tasks TaskStore, files FileStore, resultFilename string) Sink {
	return &storeSink{
		tasks:          tasks,
		files:          files,
		resultFilename: resultFilename,
	}
}

func (s *storeSink) Publish(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventProgress:
		s.tasks.SetProgress(ev.TaskID, ev.Progress)

	case EventDone:
		_, _, err := s.files.Save(ctx, bytes.NewReader(ev.Result), s.resultFilename, int64(len(ev.Result)))
		if err != nil {
			s.tasks.UpdateStatus(ev.TaskID, domain.StatusFailed, "save result: "+err.Error())
			return fmt.Errorf("save result: %w", err)
		}
		s.tasks.SetResult(ev.TaskID, s.resultFilename)

	case EventError:
		s.tasks.UpdateStatus(ev.TaskID, domain.StatusFailed, ev.Message)
	}

	return nil
}
