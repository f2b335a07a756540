package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ladder-backtest/services/arrowpipeline"
	"ladder-backtest/services/engine"
)

// Exporter writes one report format.
type Exporter interface {
	Extension() string
	Export(w io.Writer, res *engine.Result, sum Summary) error
}

// Formats lists every supported report format.
var Formats = []string{"csv", "txt", "json", "parquet", "arrow"}

// ExporterFor returns the exporter for a format name.
func ExporterFor(format string, logger *zap.Logger) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return csvExporter{}, nil
	case "txt", "table":
		return tableExporter{}, nil
	case "json":
		return jsonExporter{}, nil
	case "parquet":
		return parquetExporter{}, nil
	case "arrow", "ipc":
		return arrowExporter{pipeline: arrowpipeline.NewPipeline(logger)}, nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// ExportFiles writes <dir>/<base>.<ext> for every format and returns the paths.
func ExportFiles(dir, base string, formats []string, res *engine.Result, sum Summary, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	var paths []string
	for _, format := range formats {
		exp, err := ExporterFor(format, logger)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, base+"."+exp.Extension())
		if err := exportFile(path, exp, res, sum); err != nil {
			return paths, err
		}
		logger.Info("Report written", zap.String("format", format), zap.String("path", path))
		paths = append(paths, path)
	}
	return paths, nil
}

func exportFile(path string, exp Exporter, res *engine.Result, sum Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := exp.Export(f, res, sum); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	return f.Close()
}

// Document is the JSON report body.
type Document struct {
	Summary Summary        `json:"summary"`
	Result  *engine.Result `json:"result"`
}

type jsonExporter struct{}

func (jsonExporter) Extension() string { return "json" }

func (jsonExporter) Export(w io.Writer, res *engine.Result, sum Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{Summary: sum, Result: res})
}

type arrowExporter struct {
	pipeline *arrowpipeline.Pipeline
}

func (arrowExporter) Extension() string { return "arrow" }

func (e arrowExporter) Export(w io.Writer, res *engine.Result, _ Summary) error {
	return e.pipeline.WriteTrades(w, res.Trades)
}
