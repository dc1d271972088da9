package types

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Descriptor is a declarative HTTP request as callers submit it.
type Descriptor struct {
	URL         string
	Method      string
	Header      Headers
	Params      Params
	Raw         string
	Files       Files
	Proxy       string
	NoURLEncode Flag
	NoRedirect  Flag
	NeedExplore Flag
	NeedSave    Flag
	SaveName    string
	NeedReturn  Flag
	History     Flag
}

// ParseDescriptor decodes descriptor JSON keeping header and parameter order.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	d := &Descriptor{}
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return &MalformedDescriptorError{Reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return &MalformedDescriptorError{Reason: "descriptor must be a JSON object"}
	}

	u := root.Get("url")
	if u.Type != gjson.String || u.Str == "" {
		return &MalformedDescriptorError{Reason: "url is required"}
	}

	*d = Descriptor{
		URL:         u.Str,
		Method:      strings.ToUpper(root.Get("method").String()),
		Params:      parseParams(root.Get("params")),
		Files:       parseFiles(root.Get("files")),
		Proxy:       root.Get("proxy").String(),
		NoURLEncode: Flag(parseFlag(root.Get("no_url_encode"), false)),
		NoRedirect:  Flag(parseFlag(root.Get("no_redirect"), false)),
		NeedExplore: Flag(parseFlag(root.Get("needExplore"), false)),
		NeedSave:    Flag(parseFlag(root.Get("needSave"), false)),
		SaveName:    root.Get("saveName").String(),
		NeedReturn:  Flag(parseFlag(root.Get("needReturn"), true)),
		History:     Flag(parseFlag(root.Get("history"), true)),
	}
	if d.Method == "" {
		d.Method = "GET"
	}

	root.Get("header").ForEach(func(key, value gjson.Result) bool {
		d.Header.Set(key.String(), scalarString(value))
		return true
	})

	if raw := root.Get("raw"); raw.Exists() {
		d.Raw = scalarString(raw)
	}
	return nil
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDescriptor{
		URL:         d.URL,
		Method:      d.Method,
		Header:      d.Header,
		Params:      d.Params,
		Raw:         d.Raw,
		Files:       d.Files,
		Proxy:       d.Proxy,
		NoURLEncode: d.NoURLEncode,
		NoRedirect:  d.NoRedirect,
		NeedExplore: d.NeedExplore,
		NeedSave:    d.NeedSave,
		SaveName:    d.SaveName,
		NeedReturn:  d.NeedReturn,
		History:     d.History,
	})
}

type wireDescriptor struct {
	URL         string  `json:"url"`
	Method      string  `json:"method"`
	Header      Headers `json:"header"`
	Params      Params  `json:"params"`
	Raw         string  `json:"raw,omitempty"`
	Files       Files   `json:"files"`
	Proxy       string  `json:"proxy,omitempty"`
	NoURLEncode Flag    `json:"no_url_encode"`
	NoRedirect  Flag    `json:"no_redirect"`
	NeedExplore Flag    `json:"needExplore"`
	NeedSave    Flag    `json:"needSave"`
	SaveName    string  `json:"saveName,omitempty"`
	NeedReturn  Flag    `json:"needReturn"`
	History     Flag    `json:"history"`
}

// Clone returns a deep copy safe to mutate per candidate.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Header = d.Header.Clone()
	c.Params = d.Params.Clone()
	if d.Files != nil {
		c.Files = append(Files(nil), d.Files...)
	}
	return &c
}

// Request is the frozen snapshot of what was sent on one hop.
type Request struct {
	URL    string  `json:"url"`
	Method string  `json:"method"`
	Header Headers `json:"header"`
	Params Params  `json:"params"`
	Files  Files   `json:"files"`
	Raw    string  `json:"raw,omitempty"`
}

func (r Request) Clone() Request {
	r.Header = r.Header.Clone()
	r.Params = r.Params.Clone()
	if r.Files != nil {
		r.Files = append(Files(nil), r.Files...)
	}
	return r
}
