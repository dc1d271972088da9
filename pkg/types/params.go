package types

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Param is one query or body parameter. List marks values that arrived as a
// JSON array so they serialize back the same way.
type Param struct {
	Name   string
	Values []string
	List   bool
}

func (p Param) Value() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[0]
}

// Params is an ordered parameter set with unique names.
type Params []Param

func (p Params) Has(name string) bool {
	for _, param := range p {
		if param.Name == name {
			return true
		}
	}
	return false
}

func (p Params) Get(name string) (Param, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return Param{}, false
}

// Set replaces name's values or appends it. A later x-name wins over an
// earlier one, matching dict assignment.
func (p *Params) Set(param Param) {
	for i := range *p {
		if (*p)[i].Name == param.Name {
			(*p)[i] = param
			return
		}
	}
	*p = append(*p, param)
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for i, param := range p {
		out[i] = Param{Name: param.Name, Values: append([]string(nil), param.Values...), List: param.List}
	}
	return out
}

// Encode renders name=value pairs joined by "&". Lists expand to repeated
// keys. With raw set nothing is percent-encoded.
func (p Params) Encode(raw bool) string {
	var parts []string
	for _, param := range p {
		for _, v := range param.Values {
			if raw {
				parts = append(parts, param.Name+"="+v)
			} else {
				parts = append(parts, url.QueryEscape(param.Name)+"="+url.QueryEscape(v))
			}
		}
	}
	return strings.Join(parts, "&")
}

func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(param.Name)
		buf.Write(k)
		buf.WriteByte(':')
		var v []byte
		if param.List {
			v, _ = json.Marshal(param.Values)
		} else {
			v, _ = json.Marshal(param.Value())
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// parseParams accepts the three shapes callers send:
//
//	[{"x-name": "a", "x-value": "1"}]
//	{"a": "1", "b": ["2", "3"]}
//	{"x-param": {"x-name": "a", "x-value": "1"}}
func parseParams(r gjson.Result) Params {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if r.IsObject() {
		if xp := r.Get("x-param"); xp.Exists() {
			if xp.IsArray() {
				return parseNamedList(xp)
			}
			return parseNamedList(gjson.Parse("[" + xp.Raw + "]"))
		}
		var out Params
		r.ForEach(func(key, value gjson.Result) bool {
			out.Set(paramFrom(key.String(), value))
			return true
		})
		return out
	}
	if r.IsArray() {
		return parseNamedList(r)
	}
	return nil
}

func parseNamedList(r gjson.Result) Params {
	var out Params
	r.ForEach(func(_, item gjson.Result) bool {
		name := item.Get("x-name")
		if !name.Exists() {
			return true
		}
		out.Set(paramFrom(name.String(), item.Get("x-value")))
		return true
	})
	return out
}

func paramFrom(name string, value gjson.Result) Param {
	if value.IsArray() {
		var vals []string
		value.ForEach(func(_, v gjson.Result) bool {
			vals = append(vals, scalarString(v))
			return true
		})
		return Param{Name: name, Values: vals, List: true}
	}
	return Param{Name: name, Values: []string{scalarString(value)}}
}

// scalarString coerces a JSON value to the text that goes on the wire.
func scalarString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}
