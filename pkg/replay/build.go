package replay

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/google/uuid"
)

var hexCallRe = regexp.MustCompile(`hex\((.*?)\)`)

// outgoing is one request as it will be put on the wire.
type outgoing struct {
	method string
	url    string
	header types.Headers
	body   []byte
	// snapshot is what history records for this hop.
	snapshot types.Request
}

func bodyBearing(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// build turns a resolved descriptor into the first hop's request.
func build(d *types.Descriptor) (*outgoing, error) {
	target := d.URL
	if !bodyBearing(d.Method) && len(d.Params) > 0 {
		target = mergeQuery(target, d.Params, bool(d.NoURLEncode))
	}
	if _, err := parseTarget(target); err != nil {
		return nil, &types.MalformedDescriptorError{Reason: "invalid url", Err: err}
	}

	header := d.Header.Clone()
	var body []byte

	switch {
	case d.Raw != "":
		body = []byte(d.Raw)
		if !header.Has("Content-Type") {
			header.Set("Content-Type", "text/plain")
		}
	case len(d.Files) > 0:
		data, contentType, err := multipartBody(d.Files, d.Params, newBoundary())
		if err != nil {
			return nil, err
		}
		body = data
		header.Set("Content-Type", contentType)
	case bodyBearing(d.Method) && len(d.Params) > 0:
		body = []byte(d.Params.Encode(bool(d.NoURLEncode)))
		if !header.Has("Content-Type") {
			header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	return &outgoing{
		method: d.Method,
		url:    target,
		header: header,
		body:   body,
		snapshot: types.Request{
			URL:    target,
			Method: d.Method,
			Header: header.Clone(),
			Params: d.Params.Clone(),
			Files:  d.Files,
			Raw:    d.Raw,
		},
	}, nil
}

// redirect derives the next hop: always GET, never a body.
func (o *outgoing) redirect(location string) *outgoing {
	header := o.header.Clone()
	header.Del("Content-Type")
	header.Del("Content-Length")
	return &outgoing{
		method: "GET",
		url:    location,
		header: header,
		snapshot: types.Request{
			URL:    location,
			Method: "GET",
			Header: header.Clone(),
		},
	}
}

// mergeQuery drops URL query keys that params also set, re-encodes the first
// value of each surviving key, and appends params. Params win on conflict.
func mergeQuery(rawURL string, params types.Params, raw bool) string {
	base, query, hasQuery := strings.Cut(rawURL, "?")
	var survivors types.Params
	if hasQuery {
		for _, seg := range strings.Split(query, "&") {
			if seg == "" {
				continue
			}
			key, value, _ := strings.Cut(seg, "=")
			key, value = unescapeQuery(key), unescapeQuery(value)
			if params.Has(key) || survivors.Has(key) {
				continue
			}
			survivors = append(survivors, types.Param{Name: key, Values: []string{value}})
		}
	}

	var parts []string
	if s := survivors.Encode(raw); s != "" {
		parts = append(parts, s)
	}
	if p := params.Encode(raw); p != "" {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return base
	}
	return base + "?" + strings.Join(parts, "&")
}

func unescapeQuery(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// parseTarget parses a URL but keeps the query verbatim so unencoded
// payloads reach the wire unchanged.
func parseTarget(target string) (*url.URL, error) {
	base, query, hasQuery := strings.Cut(target, "?")
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", target)
	}
	if hasQuery {
		u.RawQuery = query
		u.ForceQuery = query == ""
	}
	return u, nil
}

func newBoundary() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "----WebKitFormBoundary" + id[:16]
}

// multipartBody writes file parts first, then one part per parameter value.
func multipartBody(files types.Files, params types.Params, boundary string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("multipart boundary: %w", err)
	}

	for _, f := range files {
		filename := f.Filename
		if filename == "" {
			filename = types.DefaultFilename
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = types.DefaultContentType
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.Name, filename))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(fileContent(f.Content)); err != nil {
			return nil, "", err
		}
	}

	for _, p := range params {
		for _, v := range p.Values {
			h := textproto.MIMEHeader{}
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.Name))
			part, err := w.CreatePart(h)
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write([]byte(v)); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// fileContent decodes hex(...) literals and bare hex strings; anything else
// is sent as UTF-8.
func fileContent(content string) []byte {
	if strings.HasPrefix(content, "hex(") {
		m := hexCallRe.FindStringSubmatch(content)
		if m == nil {
			return []byte{}
		}
		b, err := hex.DecodeString(m[1])
		if err != nil {
			return []byte{}
		}
		return b
	}
	if b, err := hex.DecodeString(content); err == nil {
		return b
	}
	return []byte(content)
}
