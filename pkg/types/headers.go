package types

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

type Header struct {
	Name  string
	Value string
}

// Headers keeps request headers in the order the caller wrote them.
// Lookups are case-insensitive, names are kept verbatim.
type Headers []Header

func (h Headers) index(name string) int {
	for i, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return i
		}
	}
	return -1
}

func (h Headers) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h[i].Value
	}
	return ""
}

func (h Headers) Has(name string) bool {
	return h.index(name) >= 0
}

// Set replaces the first header matching name or appends a new one.
func (h *Headers) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		(*h)[i].Value = value
		return
	}
	*h = append(*h, Header{Name: name, Value: value})
}

func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, hdr := range *h {
		if !strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr)
		}
	}
	*h = out
}

func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	return append(Headers(nil), h...)
}

// Apply copies the headers onto an outgoing request. Host is routed to req.Host.
func (h Headers) Apply(req *http.Request) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, "Host") {
			req.Host = hdr.Value
			continue
		}
		req.Header.Set(hdr.Name, hdr.Value)
	}
}

func (h Headers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, hdr := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(hdr.Name)
		v, _ := json.Marshal(hdr.Value)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ResponseHeader holds lowercased response header names. A name seen once
// serializes as a string, a repeated one as a list.
type ResponseHeader struct {
	keys   []string
	values map[string][]string
}

func NewResponseHeader() *ResponseHeader {
	return &ResponseHeader{values: make(map[string][]string)}
}

// ResponseHeaderFrom lowercases an http.Header. Names are sorted because the
// wire order is not recoverable from a map.
func ResponseHeaderFrom(h http.Header) *ResponseHeader {
	rh := NewResponseHeader()
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			rh.Add(name, v)
		}
	}
	return rh
}

func (r *ResponseHeader) Add(name, value string) {
	name = strings.ToLower(name)
	if _, ok := r.values[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.values[name] = append(r.values[name], value)
}

// Set replaces every value of name with a single value.
func (r *ResponseHeader) Set(name, value string) {
	name = strings.ToLower(name)
	if _, ok := r.values[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.values[name] = []string{value}
}

func (r *ResponseHeader) Get(name string) string {
	if r == nil {
		return ""
	}
	if v := r.values[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (r *ResponseHeader) Values(name string) []string {
	if r == nil {
		return nil
	}
	return r.values[strings.ToLower(name)]
}

func (r *ResponseHeader) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

func (r *ResponseHeader) Clone() *ResponseHeader {
	out := NewResponseHeader()
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out.keys = append(out.keys, k)
		out.values[k] = append([]string(nil), r.values[k]...)
	}
	return out
}

func (r *ResponseHeader) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(k)
		buf.Write(name)
		buf.WriteByte(':')
		vals := r.values[k]
		var (
			v   []byte
			err error
		)
		if len(vals) == 1 {
			v, err = json.Marshal(vals[0])
		} else {
			v, err = json.Marshal(vals)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
