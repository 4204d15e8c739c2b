package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/dataset"
	"github.com/sells-group/entity-enrich/internal/fetcher"
	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/report"
)

// Files names the input and output of a file run.
type Files struct {
	Input  string
	Output string
	// SummaryDir, if set, receives the day's completeness report as CSV.
	SummaryDir string
}

// RunFile loads the input dataset, enriches it and writes the output. An
// http(s) or ftp input is downloaded first. An unreadable input or a
// missing entity_name column fails before any lookup is made.
func (p *Pipeline) RunFile(ctx context.Context, files Files) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("input", files.Input))

	local := files.Input
	if fetcher.IsRemote(files.Input) {
		dir, err := os.MkdirTemp("", "entity-enrich-*")
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create download dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		local, err = p.remote.Fetch(ctx, files.Input, dir)
		if err != nil {
			p.metrics.ObserveRun(model.RunStatusFailed, 0)
			return nil, eris.Wrap(err, "pipeline: fetch input")
		}
	}

	ds, err := dataset.Load(local, dataset.LoadOptions{Encoding: p.cfg.Input.Encoding})
	if err != nil {
		p.metrics.ObserveRun(model.RunStatusFailed, 0)
		return nil, eris.Wrap(err, "pipeline: load input")
	}
	log.Info("pipeline: loaded input", zap.Int("rows", ds.Len()))

	result, err := p.Run(ctx, files.Input, ds)
	if err != nil {
		return result, err
	}

	if err := dataset.Save(ds, files.Output); err != nil {
		return result, eris.Wrap(err, "pipeline: save output")
	}
	log.Info("pipeline: wrote output", zap.String("output", files.Output))

	if files.SummaryDir != "" {
		path, err := report.SaveDaily(files.SummaryDir, result.Report, time.Now())
		if err != nil {
			log.Warn("pipeline: failed to save daily summary", zap.Error(err))
		} else {
			log.Info("pipeline: wrote daily summary", zap.String("path", path))
		}
	}
	return result, nil
}

// DefaultFiles returns the configured input, output and summary locations.
func (p *Pipeline) DefaultFiles() Files {
	return Files{
		Input:      p.cfg.Input.Path,
		Output:     p.cfg.Output.Path,
		SummaryDir: p.cfg.Output.SummaryDir,
	}
}
