package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sync"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer parses each template on first use and keeps it.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[name]; ok {
		return t, nil
	}
	t, err := template.ParseFS(templatesFS, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	r.cache[name] = t
	return t, nil
}

func (r *Renderer) HTML(m Message) (string, error) {
	if m.Template == "" {
		return "", nil
	}
	t, err := r.lookup(m.Template)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, m.Vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", m.Template, err)
	}
	return buf.String(), nil
}
