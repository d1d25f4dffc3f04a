package engine

import (
	_ "embed"
	"strconv"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// prompts holds the parsed templates, keyed by the yaml key.
var prompts = mustLoadPrompts()

func mustLoadPrompts() map[string]*template.Template {
	var raw map[string]string
	if err := yaml.Unmarshal(promptsYAML, &raw); err != nil {
		panic("engine: parse prompts.yaml: " + err.Error())
	}
	out := make(map[string]*template.Template, len(raw))
	for name, text := range raw {
		out[name] = template.Must(template.New(name).Parse(text))
	}
	return out
}

// renderPrompt executes the named template with data.
func renderPrompt(name string, data any) (string, error) {
	tmpl, ok := prompts[name]
	if !ok {
		return "", eris.Errorf("engine: unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", eris.Wrapf(err, "engine: render prompt %q", name)
	}
	return sb.String(), nil
}

// bulletList renders statements as "- item" lines, or "- None provided" when
// empty, matching the shape the generation prompts expect.
func bulletList(items []string) string {
	if len(items) == 0 {
		return "- None provided"
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return sb.String()
}

// numberedList renders statements as "1. item" lines for the markdown blocks
// fed to the debate and visual prompts.
func numberedList(items []string) string {
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(item)
	}
	return sb.String()
}
