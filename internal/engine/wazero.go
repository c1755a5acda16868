package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WazeroFactory compiles the configured .wasm binary for a kind into a ready
// engine. Compilation is the expensive step the Loader amortizes.
type WazeroFactory struct {
	paths map[Kind]string
}

func NewWazeroFactory(transcoderPath, pdfPath string) *WazeroFactory {
	paths := make(map[Kind]string, 2)
	if transcoderPath != "" {
		paths[KindTranscoder] = transcoderPath
	}
	if pdfPath != "" {
		paths[KindPDF] = pdfPath
	}

	return &WazeroFactory{paths: paths}
}

func (f *WazeroFactory) New(ctx context.Context, kind Kind) (Engine, error) {
	path, ok := f.paths[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module %q: %w", path, err)
	}

	runtime := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("compile module %q: %w", path, err)
	}

	return &wasmEngine{
		kind:     kind,
		runtime:  runtime,
		compiled: compiled,
	}, nil
}

type wasmEngine struct {
	kind     Kind
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// Run instantiates the compiled module as a WASI command: input arrives on
// stdin, the transformed output leaves on stdout, and args select the
// operation. For command modules instantiation is the execution.
func (e *wasmEngine) Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous, so concurrent runs do not collide
		WithStdin(stdin).
		WithStdout(stdout).
		WithStderr(io.Discard).
		WithArgs(append([]string{string(e.kind)}, args...)...)

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, cfg)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil
			}
			return fmt.Errorf("%s module exited with code %d", e.kind, exitErr.ExitCode())
		}
		return fmt.Errorf("run %s module: %w", e.kind, err)
	}

	return mod.Close(ctx)
}

func (e *wasmEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
