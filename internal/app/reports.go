package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/livescribe/internal/keywords"
	"github.com/rbright/livescribe/internal/reports"
)

func (r Runner) commandReports(_ context.Context, inv invocation) error {
	dir := inv.loaded.Config.Output.ArchiveDir
	list, err := reports.List(dir)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(r.Stdout, "no transcripts in %s\n", dir)
		return nil
	}
	for _, report := range list {
		fmt.Fprintf(r.Stdout, "%s\t%s\t%d bytes\n", report.Name, report.SavedAt.Format("2006-01-02 15:04:05"), report.Size)
	}
	return nil
}

// commandReport prints a saved transcript followed by its keyword summary.
func (r Runner) commandReport(_ context.Context, inv invocation) error {
	text, err := reports.Read(inv.loaded.Config.Output.ArchiveDir, inv.args[0])
	if errors.Is(err, reports.ErrInvalidName) {
		return exitWith(2, err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(r.Stdout, strings.TrimSpace(text))

	found := keywords.Extract(text)
	if found.Empty() {
		return nil
	}
	fmt.Fprintln(r.Stdout)
	printTerms(r, "symptoms", found.Symptoms)
	printTerms(r, "diseases", found.Diseases)
	printTerms(r, "time", found.TimeExpressions)
	return nil
}

func printTerms(r Runner, label string, terms []string) {
	if len(terms) == 0 {
		return
	}
	fmt.Fprintf(r.Stdout, "%-9s %s\n", label+":", strings.Join(terms, ", "))
}
