package report

import (
	"errors"
	"fmt"

	"opspulse.app/reporter/internal/model"
)

// ErrUnsupportedFormat is returned when no builder is registered for a
// (template type, format) pair.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// RenderError wraps a failure inside a report builder.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering report: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Builder renders one ReportRequest into report bytes. Builders must be
// deterministic: identical request content produces byte-identical output,
// with the generated-at timestamp isolated in a delimited header.
type Builder interface {
	Build(request model.ReportRequest) (model.Report, error)
}

type builderKey struct {
	templateType model.TemplateType
	format       model.Format
}

// Factory selects a report builder by (template type, format).
// Adding a new format means registering a new builder; existing builders
// are untouched.
type Factory struct {
	builders map[builderKey]Builder
}

// NewFactory returns a factory with the standard builder set: CSV and HTML
// for both stg and prod template types.
func NewFactory() *Factory {
	f := &Factory{builders: make(map[builderKey]Builder)}

	for _, t := range []model.TemplateType{model.TemplateTypeStg, model.TemplateTypeProd} {
		// Prod reports lead with a per-workspace summary; stg reports are
		// the raw tables only.
		withSummary := t == model.TemplateTypeProd
		f.mustRegister(t, model.FormatCSV, &csvBuilder{includeSummary: withSummary})
		f.mustRegister(t, model.FormatHTML, &htmlBuilder{includeSummary: withSummary})
	}

	return f
}

// Register adds a builder for the given pair. Registering a pair twice is
// an error so misconfigured wiring fails at startup.
func (f *Factory) Register(templateType model.TemplateType, format model.Format, b Builder) error {
	key := builderKey{templateType: templateType, format: format}
	if _, exists := f.builders[key]; exists {
		return fmt.Errorf("builder already registered for (%s, %s)", templateType, format)
	}
	f.builders[key] = b
	return nil
}

func (f *Factory) mustRegister(templateType model.TemplateType, format model.Format, b Builder) {
	if err := f.Register(templateType, format, b); err != nil {
		panic(err)
	}
}

// Build renders the request with the builder registered for its
// (template type, format) pair.
func (f *Factory) Build(request model.ReportRequest) (model.Report, error) {
	key := builderKey{templateType: request.TemplateType, format: request.Format}
	builder, ok := f.builders[key]
	if !ok {
		return model.Report{}, fmt.Errorf("%w: (%s, %s)", ErrUnsupportedFormat, request.TemplateType, request.Format)
	}

	for _, result := range request.Results {
		if len(result.Columns) == 0 {
			return model.Report{}, &RenderError{Err: fmt.Errorf("result for workspace %s has an empty schema", result.Workspace.ID)}
		}
	}

	report, err := builder.Build(request)
	if err != nil {
		var re *RenderError
		if errors.As(err, &re) {
			return model.Report{}, err
		}
		return model.Report{}, &RenderError{Err: err}
	}

	return report, nil
}

// SuggestedKey is the deterministic storage key for a report:
// {templateType}/{jobID}/{period}.{ext}. Re-publishing the same logical
// report overwrites the prior object.
func SuggestedKey(request model.ReportRequest) string {
	return fmt.Sprintf("%s/%s/%s.%s",
		request.TemplateType,
		request.JobID,
		request.End.UTC().Format("20060102"),
		request.Format.Ext())
}
