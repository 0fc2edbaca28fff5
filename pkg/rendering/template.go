// Package rendering renders export destination names from templates with Sprig functions
package rendering

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

var (
	// ErrEmptyName is returned when a template renders to nothing
	ErrEmptyName = errors.New("rendered name is empty")
	// ErrInvalidName is returned when a rendered name is not usable as a file stem or table description
	ErrInvalidName = errors.New("rendered name contains characters outside [A-Za-z0-9_.-]")

	validName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// TemplateEngine provides template rendering with Sprig functions
type TemplateEngine struct {
	funcMap template.FuncMap
}

// NewTemplateEngine creates a new template engine with Sprig functions
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: sprig.TxtFuncMap(),
	}
}

// Render renders a template with the given variables
func (t *TemplateEngine) Render(content string, variables map[string]interface{}) (string, error) {
	tmpl, err := template.New("name").Funcs(t.funcMap).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// Check parses content without executing it.
func (t *TemplateEngine) Check(content string) error {
	if _, err := template.New("name").Funcs(t.funcMap).Parse(content); err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return nil
}

// Export describes the output a name is rendered for
type Export struct {
	Dataset string
	Region  string
	RunID   string
	// Start is the first day of the range; End the last day included.
	Start time.Time
	End   time.Time
	// Bands and Columns exported, empty for tables.
	Bands   []string
	Columns []string
	// Period is the rollup period label for per-period rasters.
	Period string
	Kind   string
}

// BuildVariables builds the template variables of an export
func BuildVariables(e Export) map[string]interface{} {
	band := ""
	if len(e.Bands) > 0 {
		band = e.Bands[0]
	}

	return map[string]interface{}{
		"dataset": e.Dataset,
		"region":  e.Region,
		"run": map[string]interface{}{
			"id": e.RunID,
		},
		"range": map[string]interface{}{
			"start":     e.Start,
			"end":       e.End,
			"startYear": e.Start.Year(),
			"endYear":   e.End.Year(),
		},
		"band":    band,
		"bands":   e.Bands,
		"columns": e.Columns,
		"period":  e.Period,
		"kind":    e.Kind,
	}
}

// RenderName renders a destination name and checks it is safe to use as a
// file stem.
func (t *TemplateEngine) RenderName(content string, e Export) (string, error) {
	name, err := t.Render(content, BuildVariables(e))
	if err != nil {
		return "", err
	}

	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return "", ErrEmptyName
	case !validName.MatchString(name), strings.Contains(name, ".."):
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return name, nil
}
