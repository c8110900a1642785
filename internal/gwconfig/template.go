package gwconfig

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"

	"github.com/tensorzero/gateway/internal/gwerrors"
)

// TemplateStore compiles and holds every configured system/user/assistant
// template string, using stdlib text/template exactly as the teacher's
// internal/server/orchestrator/override.go renders configurable template
// strings against a struct of named arguments — no Jinja-compatible engine
// appears anywhere in the retrieved pack, so this module follows the
// teacher's own precedent for the same underlying problem (spec.md §4.A+).
type TemplateStore struct {
	root    *template.Template
	sources map[string]string
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		root:    template.New("root"),
		sources: make(map[string]string),
	}
}

// Add compiles one named template's source. Compilation errors are returned
// immediately; cross-template reference validation happens in Validate,
// once every template in the config document has been added.
func (t *TemplateStore) Add(name, source string) error {
	if _, err := t.root.New(name).Parse(source); err != nil {
		return gwerrors.Wrap(gwerrors.KindTemplateRender, err, "compile template %q", name)
	}

	t.sources[name] = source

	return nil
}

var templateRefPattern = regexp.MustCompile(`{{-?\s*template\s+"([^"]+)"`)

// Validate statically checks that every `{{template "x"}}` reference across
// all added templates names a template this store also declares, matching
// spec.md §4.A's "statically validates that every referenced template is
// declared".
func (t *TemplateStore) Validate() error {
	for name, src := range t.sources {
		for _, match := range templateRefPattern.FindAllStringSubmatch(src, -1) {
			ref := match[1]
			if _, ok := t.sources[ref]; !ok {
				return gwerrors.New(gwerrors.KindTemplateRender, "template %q references undeclared template %q", name, ref)
			}
		}
	}

	return nil
}

// Render executes the named template against args.
func (t *TemplateStore) Render(name string, args map[string]any) (string, error) {
	if _, ok := t.sources[name]; !ok {
		return "", gwerrors.New(gwerrors.KindTemplateRender, "unknown template %q", name)
	}

	var buf bytes.Buffer
	if err := t.root.ExecuteTemplate(&buf, name, args); err != nil {
		return "", gwerrors.Wrap(gwerrors.KindTemplateRender, err, "render template %q", name)
	}

	return buf.String(), nil
}

// Has reports whether name is a declared template.
func (t *TemplateStore) Has(name string) bool {
	_, ok := t.sources[name]
	return ok
}

func templateName(functionName, variantName, role string) string {
	return fmt.Sprintf("%s/%s/%s", functionName, variantName, role)
}
