package onnx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"txn-anomaly-lab/internal/model"
)

// Exporter translates fitted models into ONNX artifacts.
type Exporter struct {
	opts Options
}

// NewExporter creates an exporter.
func NewExporter(opts Options) *Exporter {
	return &Exporter{opts: opts}
}

// Result describes a written artifact.
type Result struct {
	Path string
	Data []byte
}

// Build translates m into a model proto. Only *model.IsolationForest is
// supported.
func (e *Exporter) Build(m model.Model) (*ModelProto, error) {
	switch fm := m.(type) {
	case *model.IsolationForest:
		if fm == nil {
			return nil, exportErrorf(ErrUnsupportedModel, "nil isolation forest")
		}
		return buildForestGraph(fm, e.opts)
	case nil:
		return nil, exportErrorf(ErrUnsupportedModel, "nil model")
	default:
		return nil, exportErrorf(ErrUnsupportedModel, "%T", m)
	}
}

// Marshal returns the serialized artifact for m.
func (e *Exporter) Marshal(m model.Model) ([]byte, error) {
	mp, err := e.Build(m)
	if err != nil {
		return nil, err
	}
	return mp.Marshal(), nil
}

// Export serializes m and writes it to path. The file appears complete or
// not at all.
func (e *Exporter) Export(ctx context.Context, m model.Model, path string) (*Result, error) {
	data, err := e.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := WriteFile(path, data); err != nil {
		return nil, err
	}
	return &Result{Path: path, Data: data}, nil
}

// WriteFile writes data to a temp file beside path and renames it into place.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &IOError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()

	fail := func(op string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Path: path, Op: op, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Path: path, Op: "rename", Err: fmt.Errorf("%s: %w", tmpName, err)}
	}
	return nil
}

// WithMetadata returns a copy of e that also writes key=value into the
// artifact metadata.
func (e *Exporter) WithMetadata(key, value string) *Exporter {
	opts := e.opts
	md := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		md[k] = v
	}
	md[key] = value
	opts.Metadata = md
	return &Exporter{opts: opts}
}
