package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"text/template"
)

var cache sync.Map // text -> *template.Template

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// Parse renders text with fields. Parsed templates are cached by text.
func Parse(text string, fields any) (string, error) {
	tmpl, err := lookup(text)
	if err != nil {
		return "", err
	}
	var result bytes.Buffer
	if err := tmpl.Execute(&result, fields); err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	return result.String(), nil
}

func lookup(text string) (*template.Template, error) {
	if t, ok := cache.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cache.Store(text, t)
	return t, nil
}
