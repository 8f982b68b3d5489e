package images

import (
	"context"
	"sort"
	"time"

	"git.handmade.network/hmn/imghost/src/filestore"
	"git.handmade.network/hmn/imghost/src/jobs"
	"git.handmade.network/hmn/imghost/src/models"
	"golang.org/x/sync/errgroup"
)

type SizeMismatch struct {
	ID       int
	Filename string
	RowSize  int64
	FileSize int64
}

// ConsistencyReport lists disagreements between rows and stored files. It is
// informational only; nothing is repaired.
type ConsistencyReport struct {
	Rows         int
	Files        int
	MissingFiles []string // rows whose file is gone
	OrphanFiles  []string // files with no row
	SizeMismatch []SizeMismatch
	CheckedAt    time.Time
}

func (r *ConsistencyReport) Consistent() bool {
	return len(r.MissingFiles) == 0 && len(r.OrphanFiles) == 0 && len(r.SizeMismatch) == 0
}

func (s *Service) Check(ctx context.Context) (*ConsistencyReport, error) {
	var rows []*models.Image
	var files []filestore.FileInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.Meta.All(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		files, err = s.Files.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fileSizes := make(map[string]int64, len(files))
	for _, f := range files {
		fileSizes[f.Name] = f.Size
	}

	report := &ConsistencyReport{
		Rows:      len(rows),
		Files:     len(files),
		CheckedAt: time.Now(),
	}
	for _, row := range rows {
		size, ok := fileSizes[row.Filename]
		if !ok {
			report.MissingFiles = append(report.MissingFiles, row.Filename)
			continue
		}
		if size != row.Size {
			report.SizeMismatch = append(report.SizeMismatch, SizeMismatch{
				ID:       row.ID,
				Filename: row.Filename,
				RowSize:  row.Size,
				FileSize: size,
			})
		}
		delete(fileSizes, row.Filename)
	}
	for name := range fileSizes {
		report.OrphanFiles = append(report.OrphanFiles, name)
	}
	sort.Strings(report.MissingFiles)
	sort.Strings(report.OrphanFiles)

	return report, nil
}

// MonitorConsistency periodically runs Check and logs what it finds.
func MonitorConsistency(svc *Service, interval time.Duration) *jobs.Job {
	if interval <= 0 {
		return jobs.Noop()
	}

	return jobs.Go("consistency monitor", func(job *jobs.Job) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-job.Canceled():
				job.Logger.Debug().Msg("shut down consistency monitor")
				return
			case <-t.C:
				report, err := svc.Check(job.Ctx)
				if err != nil {
					job.Logger.Error().Err(err).Msg("Consistency check failed")
					continue
				}
				logReport(job, report)
			}
		}
	})
}

func logReport(job *jobs.Job, report *ConsistencyReport) {
	if report.Consistent() {
		job.Logger.Debug().Int("rows", report.Rows).Int("files", report.Files).Msg("Images are consistent")
		return
	}
	job.Logger.Warn().
		Int("rows", report.Rows).
		Int("files", report.Files).
		Strs("missing files", report.MissingFiles).
		Strs("orphan files", report.OrphanFiles).
		Int("size mismatches", len(report.SizeMismatch)).
		Msg("Images and stored files disagree")
}
