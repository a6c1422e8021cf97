// Package catalog loads task definitions from YAML and creates the ones that do not exist yet.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"finopstrack/internal/core"

	"gopkg.in/yaml.v3"
)

// File is the top-level document.
type File struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec mirrors core.TaskDraft in YAML form.
type TaskSpec struct {
	Name               string        `yaml:"name"`
	Description        string        `yaml:"description"`
	Assignee           string        `yaml:"assignee"`
	ReportingManagers  []string      `yaml:"reporting_managers"`
	EscalationManagers []string      `yaml:"escalation_managers"`
	EffectiveFrom      string        `yaml:"effective_from"`
	Duration           string        `yaml:"duration"`
	IsActive           *bool         `yaml:"is_active"`
	Subtasks           []SubtaskSpec `yaml:"subtasks"`
}

// SubtaskSpec is one checklist step.
type SubtaskSpec struct {
	Name        string  `yaml:"name"`
	Description *string `yaml:"description"`
	StartTime   string  `yaml:"start_time"`
}

// Report lists what an import did, by task name.
type Report struct {
	Created []string
	Skipped []string
	Failed  []string
}

// Parse decodes a catalog document.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &f, nil
}

// ParseFile reads and decodes the catalog at path.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Importer creates catalog tasks through the engine.
type Importer struct {
	engine *core.Engine
	logger *slog.Logger
}

func NewImporter(engine *core.Engine, logger *slog.Logger) *Importer {
	return &Importer{engine: engine, logger: logger}
}

// Import creates every task in f whose name is not already taken. Names compare
// case-insensitively, so running the same import twice creates nothing the second time.
// Invalid tasks are reported and do not stop the import; the returned error joins them.
func (im *Importer) Import(ctx context.Context, f *File, actor string) (Report, error) {
	var report Report
	existing, err := im.engine.ListTasks(ctx, core.TaskFilter{})
	if err != nil {
		return report, err
	}
	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[nameKey(t.Name)] = true
	}

	var errs []error
	for _, spec := range f.Tasks {
		key := nameKey(spec.Name)
		if key != "" && taken[key] {
			report.Skipped = append(report.Skipped, spec.Name)
			continue
		}
		task, err := im.engine.CreateTask(ctx, spec.draft(), actor)
		if err != nil {
			report.Failed = append(report.Failed, spec.Name)
			errs = append(errs, fmt.Errorf("task %q: %w", spec.Name, err))
			if !core.IsValidation(err) {
				break
			}
			continue
		}
		taken[key] = true
		report.Created = append(report.Created, task.Name)
		im.logger.Info("catalog task imported", "task_id", task.ID, "name", task.Name)
	}
	return report, errors.Join(errs...)
}

func (t TaskSpec) draft() core.TaskDraft {
	draft := core.TaskDraft{
		Name:               t.Name,
		Description:        t.Description,
		Assignee:           t.Assignee,
		ReportingManagers:  t.ReportingManagers,
		EscalationManagers: t.EscalationManagers,
		EffectiveFrom:      t.EffectiveFrom,
		Duration:           core.Duration(t.Duration),
		IsActive:           t.IsActive,
	}
	for _, st := range t.Subtasks {
		draft.Subtasks = append(draft.Subtasks, core.SubtaskDraft{
			Name:        st.Name,
			Description: st.Description,
			StartTime:   st.StartTime,
		})
	}
	return draft
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
