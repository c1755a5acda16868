package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/halodocs/workbench/internal/engine"
)

// Metadata is advisory: a probe failure omits fields, it never fails the
// file admission itself.
type Metadata struct {
	Width    int
	Height   int
	Duration time.Duration
}

type Prober interface {
	Probe(ctx context.Context, data []byte) (Metadata, error)
}

// extractMetadata fills what it can. Image dimensions come from a config
// decode (no pixel data read); media files go through the prober under an
// explicit timeout so an unreadable file cannot hang the admission.
func (w *Workspace) extractMetadata(ctx context.Context, up Upload) Metadata {
	if isImage(up) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Data))
		if err != nil {
			slog.Warn("workspace: image metadata probe failed",
				slog.String("name", up.Name),
				slog.String("error", err.Error()),
			)
			return Metadata{}
		}
		return Metadata{Width: cfg.Width, Height: cfg.Height}
	}

	if isMedia(up) && w.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, w.probeTimeout)
		defer cancel()

		meta, err := w.prober.Probe(probeCtx, up.Data)
		if err != nil {
			slog.Warn("workspace: media metadata probe failed",
				slog.String("name", up.Name),
				slog.String("error", err.Error()),
			)
			return Metadata{}
		}
		return meta
	}

	return Metadata{}
}

func isImage(up Upload) bool {
	return strings.HasPrefix(strings.ToLower(up.MIME), "image/")
}

func isMedia(up Upload) bool {
	m := strings.ToLower(up.MIME)
	return strings.HasPrefix(m, "video/") || strings.HasPrefix(m, "audio/")
}

// EngineProber extracts media metadata by running the transcoder engine in
// probe mode. The engine reports what it finds as a small JSON document.
type EngineProber struct {
	loader *engine.Loader
}

func NewEngineProber(loader *engine.Loader) *EngineProber {
	return &EngineProber{loader: loader}
}

type probeReport struct {
	Width      int   `json:"width"`
	Height     int   `json:"height"`
	DurationMs int64 `json:"duration_ms"`
}

func (p *EngineProber) Probe(ctx context.Context, data []byte) (Metadata, error) {
	eng, err := p.loader.Load(ctx, engine.KindTranscoder)
	if err != nil {
		return Metadata{}, fmt.Errorf("load transcoder engine: %w", err)
	}

	var out bytes.Buffer
	if err := eng.Run(ctx, bytes.NewReader(data), &out, "probe"); err != nil {
		return Metadata{}, fmt.Errorf("probe: %w", err)
	}

	var report probeReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		return Metadata{}, fmt.Errorf("parse probe report: %w", err)
	}

	return Metadata{
		Width:    report.Width,
		Height:   report.Height,
		Duration: time.Duration(report.DurationMs) * time.Millisecond,
	}, nil
}
