// Package token substitutes {{path}} expressions in request templates with
// values from a nested context.
//
//	ctx, _ := token.NewContext(map[string]any{"user": map[string]any{"email": "a@b.com"}})
//	ctx.Resolve("/api/orders?owner={{ user.email }}") // "/api/orders?owner=a@b.com"
//
// Paths are dotted; name[3] is shorthand for name.3 and indexes arrays.
// Missing or null values resolve to the empty string. Objects and arrays
// resolve to compact JSON with sorted map keys.
package token

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	tokenRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	indexRe = regexp.MustCompile(`\[(\d+)\]`)

	ErrInvalidJSON = errors.New("token: context is not valid JSON")
)

// Context is a read-only lookup document. The zero value and nil resolve
// every token to "".
type Context struct {
	doc string
}

// NewContext snapshots v as JSON. Later changes to v are not observed.
func NewContext(v any) (*Context, error) {
	if v == nil {
		return &Context{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Context{doc: string(b)}, nil
}

// FromJSON uses raw as the lookup document.
func FromJSON(raw []byte) (*Context, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return &Context{doc: string(raw)}, nil
}

// Resolve is NewContext(v).Resolve(template). A context that cannot be
// encoded resolves every token to "".
func Resolve(template string, v any) string {
	c, err := NewContext(v)
	if err != nil {
		c = nil
	}
	return c.Resolve(template)
}

// HasTokens reports whether s contains at least one {{...}} expression.
func HasTokens(s string) bool { return tokenRe.MatchString(s) }

// Resolve replaces every {{expr}} in template.
func (c *Context) Resolve(template string) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}
	return tokenRe.ReplaceAllStringFunc(template, func(m string) string {
		r, ok := c.lookup(m[2 : len(m)-2])
		if !ok {
			return ""
		}
		return text(r)
	})
}

// Lookup returns the decoded value at expr (map[string]any, []any, float64,
// string, bool). Null counts as absent.
func (c *Context) Lookup(expr string) (any, bool) {
	r, ok := c.lookup(expr)
	if !ok {
		return nil, false
	}
	return r.Value(), true
}

// JSON returns the lookup document.
func (c *Context) JSON() []byte {
	if c == nil || c.doc == "" {
		return []byte("null")
	}
	return []byte(c.doc)
}

func (c *Context) lookup(expr string) (gjson.Result, bool) {
	if c == nil || c.doc == "" {
		return gjson.Result{}, false
	}
	segs := Segments(expr)
	if len(segs) == 0 {
		return gjson.Result{}, false
	}
	escaped := make([]string, len(segs))
	for i, s := range segs {
		if s == "" {
			return gjson.Result{}, false
		}
		escaped[i] = gjson.Escape(s)
	}
	r := gjson.Get(c.doc, strings.Join(escaped, "."))
	if !r.Exists() || r.Type == gjson.Null {
		return gjson.Result{}, false
	}
	return r, true
}

// Segments splits a trimmed expression into path steps, turning name[i] into name.i.
func Segments(expr string) []string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	return strings.Split(indexRe.ReplaceAllString(expr, ".$1"), ".")
}

func text(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Number:
		if strings.ContainsAny(r.Raw, "eE") {
			return strconv.FormatFloat(r.Num, 'f', -1, 64)
		}
		return r.Raw
	default:
		return stable(r)
	}
}

// stable re-encodes objects through map[string]any so keys come out sorted
// whatever order the context was built in. Numbers keep their literal digits.
func stable(r gjson.Result) string {
	dec := json.NewDecoder(strings.NewReader(r.Raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return r.Raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return r.Raw
	}
	return string(b)
}
