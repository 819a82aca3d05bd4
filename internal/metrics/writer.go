package metrics

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// csvAppender appends rows to a schema-stable CSV file, writing the header
// once on first use and on every process restart that finds an empty file.
type csvAppender struct {
	path        string
	wroteHeader bool
}

func newCSVAppender(path string) (*csvAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	wrote := err == nil && info.Size() > 0
	return &csvAppender{path: path, wroteHeader: wrote}, nil
}

func (a *csvAppender) append(header, row []string) error {
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !a.wroteHeader {
		if err := w.Write(header); err != nil {
			return err
		}
		a.wroteHeader = true
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// writePrometheusFile gathers every metric family from reg and writes the
// Prometheus text exposition format to path, replacing it atomically via a
// temp-file-then-rename in the same directory — the same technique the
// snapshot store uses for state/snapshot.json.
func writePrometheusFile(path string, families []*dto.MetricFamily) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".metrics-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()

	bw := bufio.NewWriter(f)
	enc := expfmt.NewEncoder(bw, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
