// Package mediaproc transcodes audio/video through the transcoder engine.
package mediaproc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/halodocs/workbench/internal/dispatch"
	"github.com/halodocs/workbench/internal/engine"
)

type Processor struct {
	loader *engine.Loader
}

func New(loader *engine.Loader) *Processor {
	return &Processor{loader: loader}
}

func (p *Processor) Process(ctx context.Context, task dispatch.Task, report func(progress int)) ([]byte, error) {
	report(5)

	eng, err := p.loader.Load(ctx, engine.KindTranscoder)
	if err != nil {
		return nil, fmt.Errorf("load transcoder engine: %w", err)
	}
	report(15)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := task.Options.Media
	args := []string{"transcode", "-container", opts.Container}
	if opts.VideoBitrate != "" {
		args = append(args, "-vb", opts.VideoBitrate)
	}
	if opts.AudioBitrate != "" {
		args = append(args, "-ab", opts.AudioBitrate)
	}

	var stdout bytes.Buffer
	if err := eng.Run(ctx, bytes.NewReader(task.Input), &stdout, args...); err != nil {
		return nil, fmt.Errorf("transcode to %s: %w", opts.Container, err)
	}
	report(90)

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("transcode produced no output")
	}

	return stdout.Bytes(), nil
}
