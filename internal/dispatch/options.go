package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

type OpKind string

const (
	OpImageCompress OpKind = "image.compress"
	OpImageResize   OpKind = "image.resize"
	OpImageCrop     OpKind = "image.crop"
	OpImageConvert  OpKind = "image.convert"

	OpPDFMerge    OpKind = "pdf.merge"
	OpPDFSplit    OpKind = "pdf.split"
	OpPDFCompress OpKind = "pdf.compress"
	OpPDFExtract  OpKind = "pdf.extract"

	OpMediaTranscode OpKind = "media.transcode"
)

type Class string

const (
	ClassImage    Class = "image"
	ClassDocument Class = "document"
	ClassMedia    Class = "media"
)

func (k OpKind) Class() (Class, bool) {
	switch {
	case strings.HasPrefix(string(k), "image."):
		return ClassImage, true
	case strings.HasPrefix(string(k), "pdf."):
		return ClassDocument, true
	case strings.HasPrefix(string(k), "media."):
		return ClassMedia, true
	default:
		return "", false
	}
}

var ErrInvalidOptions = errors.New("invalid options")

// Options is the per-operation configuration sent with a task. Exactly the
// variant matching the operation class must be present; everything is
// validated at the dispatch boundary, never trusted inside the worker.
type Options struct {
	Op    OpKind        `json:"op"`
	Image *ImageOptions `json:"image,omitempty"`
	PDF   *PDFOptions   `json:"pdf,omitempty"`
	Media *MediaOptions `json:"media,omitempty"`
}

type ImageOptions struct {
	Quality    int    `json:"quality,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	KeepAspect bool   `json:"keep_aspect,omitempty"`
	CropX      int    `json:"crop_x,omitempty"`
	CropY      int    `json:"crop_y,omitempty"`
	CropWidth  int    `json:"crop_width,omitempty"`
	CropHeight int    `json:"crop_height,omitempty"`
	Format     string `json:"format,omitempty"`
}

type PDFOptions struct {
	// AppendKeys are stored-file keys merged after the task input.
	AppendKeys []string `json:"append_keys,omitempty"`
	// Pages selects pages for split/extract, e.g. "1-3,7".
	Pages string `json:"pages,omitempty"`
}

type MediaOptions struct {
	Container    string `json:"container"`
	VideoBitrate string `json:"video_bitrate,omitempty"`
	AudioBitrate string `json:"audio_bitrate,omitempty"`
}

var imageFormats = map[string]bool{"png": true, "jpeg": true, "jpg": true, "gif": true}

func (o Options) Validate() error {
	class, ok := o.Op.Class()
	if !ok {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidOptions, o.Op)
	}

	switch class {
	case ClassImage:
		if o.Image == nil {
			return fmt.Errorf("%w: %s requires image options", ErrInvalidOptions, o.Op)
		}
		if o.PDF != nil || o.Media != nil {
			return fmt.Errorf("%w: %s accepts only image options", ErrInvalidOptions, o.Op)
		}
		return o.Image.validate(o.Op)

	case ClassDocument:
		if o.PDF == nil {
			return fmt.Errorf("%w: %s requires pdf options", ErrInvalidOptions, o.Op)
		}
		if o.Image != nil || o.Media != nil {
			return fmt.Errorf("%w: %s accepts only pdf options", ErrInvalidOptions, o.Op)
		}
		return o.PDF.validate(o.Op)

	case ClassMedia:
		if o.Media == nil {
			return fmt.Errorf("%w: %s requires media options", ErrInvalidOptions, o.Op)
		}
		if o.Image != nil || o.PDF != nil {
			return fmt.Errorf("%w: %s accepts only media options", ErrInvalidOptions, o.Op)
		}
		return o.Media.validate()
	}

	return nil
}

func (o *ImageOptions) validate(op OpKind) error {
	switch op {
	case OpImageCompress:
		if o.Quality < 1 || o.Quality > 100 {
			return fmt.Errorf("%w: quality must be in 1..100, got %d", ErrInvalidOptions, o.Quality)
		}
	case OpImageResize:
		if o.Width <= 0 && o.Height <= 0 {
			return fmt.Errorf("%w: resize needs a positive width or height", ErrInvalidOptions)
		}
	case OpImageCrop:
		if o.CropWidth <= 0 || o.CropHeight <= 0 {
			return fmt.Errorf("%w: crop rectangle must have positive size", ErrInvalidOptions)
		}
		if o.CropX < 0 || o.CropY < 0 {
			return fmt.Errorf("%w: crop origin must not be negative", ErrInvalidOptions)
		}
	case OpImageConvert:
		if !imageFormats[strings.ToLower(o.Format)] {
			return fmt.Errorf("%w: unsupported image format %q", ErrInvalidOptions, o.Format)
		}
	}
	return nil
}

func (o *PDFOptions) validate(op OpKind) error {
	switch op {
	case OpPDFMerge:
		if len(o.AppendKeys) == 0 {
			return fmt.Errorf("%w: merge needs at least one file to append", ErrInvalidOptions)
		}
	case OpPDFSplit, OpPDFExtract:
		if strings.TrimSpace(o.Pages) == "" {
			return fmt.Errorf("%w: %s needs a page selection", ErrInvalidOptions, op)
		}
	}
	return nil
}

func (o *MediaOptions) validate() error {
	if strings.TrimSpace(o.Container) == "" {
		return fmt.Errorf("%w: transcode needs a target container", ErrInvalidOptions)
	}
	return nil
}
