package types

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

const (
	DefaultFilename    = "item"
	DefaultContentType = "application/octet-stream"
)

// FilePart is one multipart file field. Content is text: a hex string, a
// hex(...) literal, or plain UTF-8.
type FilePart struct {
	Name        string `json:"name"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

// Files serializes as {"item": [...]} like the descriptor it came from.
type Files []FilePart

func (f Files) MarshalJSON() ([]byte, error) {
	if len(f) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string][]FilePart{"item": f})
}

func parseFiles(r gjson.Result) Files {
	item := r.Get("item")
	if !item.Exists() || item.Type == gjson.Null {
		return nil
	}
	if !item.IsArray() {
		item = gjson.Parse("[" + item.Raw + "]")
	}
	var out Files
	item.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		part := FilePart{
			Name:    scalarString(v.Get("name")),
			Content: scalarString(v.Get("content")),
		}
		if fn := v.Get("filename"); fn.Exists() {
			part.Filename = scalarString(fn)
		}
		if ct := v.Get("content_type"); ct.Exists() {
			part.ContentType = scalarString(ct)
		}
		out = append(out, part)
		return true
	})
	return out
}
