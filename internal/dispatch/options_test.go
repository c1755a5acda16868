package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/halodocs/workbench/internal/domain"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "valid compress",
			opts: Options{Op: OpImageCompress, Image: &ImageOptions{Quality: 80}},
		},
		{
			name:    "compress quality out of range",
			opts:    Options{Op: OpImageCompress, Image: &ImageOptions{Quality: 0}},
			wantErr: true,
		},
		{
			name: "valid resize width only",
			opts: Options{Op: OpImageResize, Image: &ImageOptions{Width: 800}},
		},
		{
			name:    "resize without dimensions",
			opts:    Options{Op: OpImageResize, Image: &ImageOptions{}},
			wantErr: true,
		},
		{
			name: "valid crop",
			opts: Options{Op: OpImageCrop, Image: &ImageOptions{CropWidth: 10, CropHeight: 10}},
		},
		{
			name:    "crop with negative origin",
			opts:    Options{Op: OpImageCrop, Image: &ImageOptions{CropX: -1, CropWidth: 10, CropHeight: 10}},
			wantErr: true,
		},
		{
			name:    "crop with empty rectangle",
			opts:    Options{Op: OpImageCrop, Image: &ImageOptions{CropWidth: 0, CropHeight: 10}},
			wantErr: true,
		},
		{
			name: "valid convert",
			opts: Options{Op: OpImageConvert, Image: &ImageOptions{Format: "PNG"}},
		},
		{
			name:    "convert to unsupported format",
			opts:    Options{Op: OpImageConvert, Image: &ImageOptions{Format: "bmp"}},
			wantErr: true,
		},
		{
			name:    "image op without image options",
			opts:    Options{Op: OpImageCompress},
			wantErr: true,
		},
		{
			name: "image op with extra pdf options",
			opts: Options{
				Op:    OpImageCompress,
				Image: &ImageOptions{Quality: 80},
				PDF:   &PDFOptions{},
			},
			wantErr: true,
		},
		{
			name: "valid merge",
			opts: Options{Op: OpPDFMerge, PDF: &PDFOptions{AppendKeys: []string{"inputs/a.pdf"}}},
		},
		{
			name:    "merge without files",
			opts:    Options{Op: OpPDFMerge, PDF: &PDFOptions{}},
			wantErr: true,
		},
		{
			name: "valid split",
			opts: Options{Op: OpPDFSplit, PDF: &PDFOptions{Pages: "1-3,7"}},
		},
		{
			name:    "split without pages",
			opts:    Options{Op: OpPDFSplit, PDF: &PDFOptions{}},
			wantErr: true,
		},
		{
			name: "valid pdf compress",
			opts: Options{Op: OpPDFCompress, PDF: &PDFOptions{}},
		},
		{
			name:    "extract without pages",
			opts:    Options{Op: OpPDFExtract, PDF: &PDFOptions{Pages: "  "}},
			wantErr: true,
		},
		{
			name: "valid transcode",
			opts: Options{Op: OpMediaTranscode, Media: &MediaOptions{Container: "mp4"}},
		},
		{
			name:    "transcode without container",
			opts:    Options{Op: OpMediaTranscode, Media: &MediaOptions{}},
			wantErr: true,
		},
		{
			name:    "unknown op",
			opts:    Options{Op: OpKind("audio.normalize")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected a validation error")
				}
				if !errors.Is(err, ErrInvalidOptions) {
					t.Errorf("error %v is not ErrInvalidOptions", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate error: %v", err)
			}
		})
	}
}

func TestOpKindClass(t *testing.T) {
	tests := []struct {
		op    OpKind
		class Class
		ok    bool
	}{
		{OpImageResize, ClassImage, true},
		{OpPDFMerge, ClassDocument, true},
		{OpMediaTranscode, ClassMedia, true},
		{OpKind("text.summarize"), "", false},
	}

	for _, tt := range tests {
		class, ok := tt.op.Class()
		if class != tt.class || ok != tt.ok {
			t.Errorf("Class(%q) = %q, %v, want %q, %v", tt.op, class, ok, tt.class, tt.ok)
		}
	}
}

func TestResultFilenameExtension(t *testing.T) {
	tests := []struct {
		name     string
		op       OpKind
		original string
		opts     Options
		wantExt  string
	}{
		{
			name:     "convert uses the target format",
			op:       OpImageConvert,
			original: "photo.png",
			opts:     Options{Image: &ImageOptions{Format: "JPEG"}},
			wantExt:  ".jpeg",
		},
		{
			name:     "pdf ops always produce pdf",
			op:       OpPDFMerge,
			original: "report.PDF",
			wantExt:  ".pdf",
		},
		{
			name:     "transcode uses the container",
			op:       OpMediaTranscode,
			original: "clip.mov",
			opts:     Options{Media: &MediaOptions{Container: "webm"}},
			wantExt:  ".webm",
		},
		{
			name:     "compress keeps the source extension",
			op:       OpImageCompress,
			original: "photo.jpg",
			wantExt:  ".jpg",
		},
		{
			name:     "no extension falls back to bin",
			op:       OpImageCompress,
			original: "photo",
			wantExt:  ".bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := domain.Task{ID: "t1", Op: string(tt.op), OriginalName: tt.original}
			got := resultFilename(task, tt.opts)
			if !strings.HasPrefix(got, "results/") {
				t.Errorf("result %q not under results/", got)
			}
			if !strings.HasSuffix(got, tt.wantExt) {
				t.Errorf("result %q, want extension %q", got, tt.wantExt)
			}
		})
	}
}
