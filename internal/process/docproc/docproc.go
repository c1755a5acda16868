// Package docproc runs PDF operations through the sandboxed PDF engine. The
// engine is a WASI command module: parts arrive length-prefixed on stdin, the
// produced document leaves on stdout.
package docproc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/halodocs/workbench/internal/dispatch"
	"github.com/halodocs/workbench/internal/engine"
)

type FileOpener interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

type Processor struct {
	loader *engine.Loader
	files  FileOpener
}

func New(loader *engine.Loader, files FileOpener) *Processor {
	return &Processor{loader: loader, files: files}
}

func (p *Processor) Process(ctx context.Context, task dispatch.Task, report func(progress int)) ([]byte, error) {
	report(5)

	eng, err := p.loader.Load(ctx, engine.KindPDF)
	if err != nil {
		return nil, fmt.Errorf("load pdf engine: %w", err)
	}
	report(15)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts := [][]byte{task.Input}
	if task.Op == dispatch.OpPDFMerge {
		for _, key := range task.Options.PDF.AppendKeys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := p.readFile(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read merge input %q: %w", key, err)
			}
			parts = append(parts, data)
		}
	}
	report(30)

	args, err := argsFor(task.Op, task.Options.PDF, len(parts))
	if err != nil {
		return nil, err
	}

	var stdin bytes.Buffer
	if err := writeFrames(&stdin, parts); err != nil {
		return nil, err
	}

	var stdout bytes.Buffer
	if err := eng.Run(ctx, &stdin, &stdout, args...); err != nil {
		return nil, fmt.Errorf("pdf %s: %w", task.Op, err)
	}
	report(90)

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("pdf %s produced no output", task.Op)
	}

	return stdout.Bytes(), nil
}

func (p *Processor) readFile(ctx context.Context, filename string) ([]byte, error) {
	rc, _, err := p.files.Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func argsFor(op dispatch.OpKind, opts *dispatch.PDFOptions, partCount int) ([]string, error) {
	switch op {
	case dispatch.OpPDFMerge:
		return []string{"merge", "-count", fmt.Sprint(partCount)}, nil
	case dispatch.OpPDFSplit:
		return []string{"split", "-pages", opts.Pages}, nil
	case dispatch.OpPDFCompress:
		return []string{"compress"}, nil
	case dispatch.OpPDFExtract:
		return []string{"extract", "-pages", opts.Pages}, nil
	default:
		return nil, fmt.Errorf("unsupported pdf operation %q", op)
	}
}

// writeFrames writes each part as an 8-byte big-endian length followed by the
// bytes; the engine's -count argument says how many frames to expect.
func writeFrames(w io.Writer, parts [][]byte) error {
	for _, part := range parts {
		if err := binary.Write(w, binary.BigEndian, uint64(len(part))); err != nil {
			return fmt.Errorf("write frame header: %w", err)
		}
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("write frame body: %w", err)
		}
	}
	return nil
}
