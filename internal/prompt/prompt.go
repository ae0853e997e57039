// Package prompt renders the system prompts of cognitive nodes. Prompts are
// text/template documents evaluated against the node and the signal being
// processed.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/hupe1980/layermesh/core"
)

// Data is what a template can reference.
type Data struct {
	Node     core.NodeID
	Layer    core.Layer
	Hops     int
	TTL      int
	Metadata map[string]string
}

// DataFor collects the template data of one invocation.
func DataFor(node core.NodeInfo, in core.Signal) Data {
	return Data{Node: node.ID, Layer: node.Layer, Hops: in.Hops, TTL: in.TTL, Metadata: in.Metadata}
}

// Template is a parsed prompt. Text without template markers is returned
// verbatim by Render.
type Template struct {
	text string
	tmpl *template.Template
}

var funcs = template.FuncMap{
	"default": func(def, val any) any {
		if val == nil || val == "" {
			return def
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"meta": func(md map[string]string, key string) string {
		return md[key]
	},
}

// Parse compiles text. Missing map keys render as empty strings.
func Parse(text string) (*Template, error) {
	t := &Template{text: text}
	if !strings.Contains(text, "{{") {
		return t, nil
	}
	tmpl, err := template.New("prompt").Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	t.tmpl = tmpl
	return t, nil
}

// Static reports whether the prompt has no template markers.
func (t *Template) Static() bool { return t.tmpl == nil }

// Render evaluates the template against d.
func (t *Template) Render(d Data) (string, error) {
	if t.tmpl == nil {
		return t.text, nil
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return buf.String(), nil
}
