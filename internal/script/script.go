// Package script renders the batch submission script for a job.
//
// The script starts with #SBATCH directives derived from the job's
// resource request, followed by the body rendered from the job's
// template with its resolved values.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
)

// walltimePattern matches HH:MM:SS (hours may exceed two digits).
var walltimePattern = regexp.MustCompile(`^\d{1,4}:\d{2}:\d{2}$`)

// ValidateResources checks the resource request before any remote call.
func ValidateResources(r models.ResourceRequest) error {
	if r.Cores <= 0 {
		return &errdefs.ValidationError{Field: "resources.cores", Msg: "must be > 0"}
	}
	if r.Walltime == "" {
		return &errdefs.ValidationError{Field: "resources.walltime", Msg: "required"}
	}
	if !walltimePattern.MatchString(r.Walltime) {
		return &errdefs.ValidationError{Field: "resources.walltime", Msg: "must be HH:MM:SS"}
	}
	if r.MemoryMB < 0 {
		return &errdefs.ValidationError{Field: "resources.memory_mb", Msg: "must be >= 0"}
	}
	return nil
}

// Render produces the submission script text for a descriptor. body is
// the raw template text; the descriptor's template values are substituted
// via text/template ({{.name}} style).
func Render(desc *models.JobDescriptor, body string) (string, error) {
	if err := ValidateResources(desc.Resources); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	sb.WriteString(fmt.Sprintf("#SBATCH --job-name=%s\n", desc.JobName))
	sb.WriteString(fmt.Sprintf("#SBATCH --ntasks=%d\n", desc.Resources.Cores))
	sb.WriteString(fmt.Sprintf("#SBATCH --time=%s\n", desc.Resources.Walltime))
	if desc.Resources.Partition != "" {
		sb.WriteString(fmt.Sprintf("#SBATCH --partition=%s\n", desc.Resources.Partition))
	}
	if desc.Resources.MemoryMB > 0 {
		sb.WriteString(fmt.Sprintf("#SBATCH --mem=%dM\n", desc.Resources.MemoryMB))
	}
	// Scheduler logs land next to the script so completion can mirror
	// them with the outputs.
	sb.WriteString("#SBATCH --output=slurm-%j.out\n")
	sb.WriteString("#SBATCH --error=slurm-%j.err\n")
	sb.WriteString("\n")

	// Resolved template values are also exported so script bodies can
	// use plain shell expansion instead of template syntax.
	if len(desc.Template.Values) > 0 {
		keys := make([]string, 0, len(desc.Template.Values))
		for k := range desc.Template.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("export %s=%q\n", strings.ToUpper(k), desc.Template.Values[k]))
		}
		sb.WriteString("\n")
	}

	rendered, err := renderBody(desc.Template.TemplateID, body, desc.Template.Values)
	if err != nil {
		return "", err
	}
	sb.WriteString(rendered)
	if !strings.HasSuffix(rendered, "\n") {
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func renderBody(templateID, body string, values map[string]string) (string, error) {
	tmpl, err := template.New(templateID).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", &errdefs.ValidationError{Field: "template", Msg: fmt.Sprintf("invalid template %s: %v", templateID, err)}
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, values); err != nil {
		return "", &errdefs.ValidationError{Field: "template", Msg: fmt.Sprintf("missing template value: %v", err)}
	}
	return out.String(), nil
}

// LoadTemplate reads a template body by id from the template directory.
func LoadTemplate(templateDir, templateID string) (string, error) {
	if templateID == "" {
		return "", &errdefs.ValidationError{Field: "template_id", Msg: "required"}
	}
	if strings.ContainsAny(templateID, "/\\") {
		return "", &errdefs.ValidationError{Field: "template_id", Msg: "must not contain path separators"}
	}
	data, err := os.ReadFile(filepath.Join(templateDir, templateID))
	if os.IsNotExist(err) {
		return "", &errdefs.ValidationError{Field: "template_id", Msg: "unknown template: " + templateID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", templateID, err)
	}
	return string(data), nil
}
