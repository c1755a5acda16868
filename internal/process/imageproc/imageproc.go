// Package imageproc performs image operations in-process: the decoded pixels
// stay in memory, so the dispatch layer's input ceiling is what keeps this
// from exhausting the worker.
package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/halodocs/workbench/internal/dispatch"

	"github.com/disintegration/imaging"
)

type Processor struct{}

func New() *Processor {
	return &Processor{}
}

func (p *Processor) Process(ctx context.Context, task dispatch.Task, report func(progress int)) ([]byte, error) {
	src, srcFormat, err := image.Decode(bytes.NewReader(task.Input))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	report(20)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := task.Options.Image
	outFormat := srcFormat
	quality := 0

	var out image.Image

	switch task.Op {
	case dispatch.OpImageCompress:
		out = src
		quality = opts.Quality

	case dispatch.OpImageResize:
		if opts.KeepAspect && opts.Width > 0 && opts.Height > 0 {
			out = imaging.Fit(src, opts.Width, opts.Height, imaging.Lanczos)
		} else {
			// A zero dimension preserves the aspect ratio.
			out = imaging.Resize(src, opts.Width, opts.Height, imaging.Lanczos)
		}

	case dispatch.OpImageCrop:
		rect := image.Rect(opts.CropX, opts.CropY, opts.CropX+opts.CropWidth, opts.CropY+opts.CropHeight)
		if !rect.In(src.Bounds()) {
			return nil, fmt.Errorf("crop rectangle %v outside image bounds %v", rect, src.Bounds())
		}
		out = imaging.Crop(src, rect)

	case dispatch.OpImageConvert:
		out = imaging.Clone(src)
		outFormat = opts.Format

	default:
		return nil, fmt.Errorf("unsupported image operation %q", task.Op)
	}
	report(70)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := encode(out, outFormat, quality)
	if err != nil {
		return nil, err
	}
	report(95)

	return encoded, nil
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	f, err := formatFor(format)
	if err != nil {
		return nil, err
	}

	var encodeOpts []imaging.EncodeOption
	if f == imaging.JPEG && quality > 0 {
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(quality))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, encodeOpts...); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

func formatFor(name string) (imaging.Format, error) {
	switch strings.ToLower(name) {
	case "png":
		return imaging.PNG, nil
	case "jpeg", "jpg":
		return imaging.JPEG, nil
	case "gif":
		return imaging.GIF, nil
	default:
		return 0, fmt.Errorf("unsupported image format %q", name)
	}
}
