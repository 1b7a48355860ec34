package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/livescribe/internal/config"
	"github.com/rbright/livescribe/internal/keywords"
	"github.com/rbright/livescribe/internal/reports"
)

const clipboardTimeout = 2 * time.Second

// Committer archives and copies a finished transcript.
type Committer struct {
	config config.OutputConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCommitter constructs a transcript committer from output config.
func NewCommitter(cfg config.OutputConfig, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Committer{config: cfg, logger: logger, now: time.Now}
}

// Commit archives the transcript and copies it to the clipboard, whichever
// are enabled. Both are attempted; failures are joined.
func (c *Committer) Commit(ctx context.Context, transcript string) error {
	if transcript == "" {
		return nil
	}

	var errs []error
	if c.config.Archive {
		report, err := reports.Save(c.config.ArchiveDir, transcript, c.now())
		if err != nil {
			errs = append(errs, fmt.Errorf("archive transcript: %w", err))
		} else {
			c.logger.Info("transcript archived", "path", report.Path, "bytes", report.Size)
			c.logKeywords(report.Name, transcript)
		}
	}

	if c.config.Clipboard {
		clipboardCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
		defer cancel()
		if err := copyToClipboard(clipboardCtx, c.config.ClipboardCmd.Argv, transcript); err != nil {
			errs = append(errs, fmt.Errorf("set clipboard: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (c *Committer) logKeywords(name string, transcript string) {
	found := keywords.Extract(transcript)
	if found.Empty() {
		return
	}
	c.logger.Info("transcript keywords",
		"report", name,
		"symptoms", found.Symptoms,
		"diseases", found.Diseases,
		"time_expressions", found.TimeExpressions,
	)
}
