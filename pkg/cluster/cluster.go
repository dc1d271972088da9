// Package cluster groups probe responses that are identical once the probed
// value is masked out.
package cluster

import (
	"fmt"
	"strings"
	"sync"
)

const (
	Placeholder = "{payload}"

	DefaultSnippetLength = 2000
)

// Normalize masks every literal occurrence of value in content.
func Normalize(content, value string) string {
	if value == "" {
		return content
	}
	return strings.ReplaceAll(content, value, Placeholder)
}

// Class is one group of values that produced the same normalized body.
type Class struct {
	Body   string   `json:"body"`
	Values []string `json:"values"`
}

// Clusterer is safe for concurrent Add calls. Classes come back in the order
// they were first seen.
type Clusterer struct {
	mu      sync.Mutex
	order   []string
	classes map[string]*Class
}

func New() *Clusterer {
	return &Clusterer{classes: make(map[string]*Class)}
}

func (c *Clusterer) Add(value, content string) {
	body := Normalize(content, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	class, ok := c.classes[body]
	if !ok {
		class = &Class{Body: body}
		c.classes[body] = class
		c.order = append(c.order, body)
	}
	class.Values = append(class.Values, value)
}

func (c *Clusterer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func (c *Clusterer) Classes() []Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Class, 0, len(c.order))
	for _, body := range c.order {
		class := c.classes[body]
		out = append(out, Class{Body: class.Body, Values: append([]string(nil), class.Values...)})
	}
	return out
}

// Format renders one line per class as "payload [v1,v2]: <snippet>". The
// snippet is cut to snippetLen runes; zero or less means DefaultSnippetLength.
func (c *Clusterer) Format(snippetLen int) []string {
	if snippetLen <= 0 {
		snippetLen = DefaultSnippetLength
	}
	classes := c.Classes()
	lines := make([]string, 0, len(classes))
	for _, class := range classes {
		lines = append(lines, fmt.Sprintf("payload [%s]: %s",
			strings.Join(class.Values, ","), snippet(class.Body, snippetLen)))
	}
	return lines
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
