package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadDescriptor_YAMLKeepsOrder(t *testing.T) {
	path := writeFile(t, "req.yaml", `
url: https://example.com/login
method: POST
header:
  X-Second: "2"
  X-First: "1"
params:
  zeta: last
  alpha: 7
needExplore: true
raw: null
`)

	out, err := readDescriptor(path, nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"url": "https://example.com/login",
		"method": "POST",
		"header": {"X-Second": "2", "X-First": "1"},
		"params": {"zeta": "last", "alpha": 7},
		"needExplore": true,
		"raw": null
	}`, string(out))

	var keys []string
	gjson.GetBytes(out, "header").ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	assert.Equal(t, []string{"X-Second", "X-First"}, keys)
	assert.Less(t, strings.Index(string(out), "zeta"), strings.Index(string(out), "alpha"))
}

func TestReadDescriptor_YAMLSequenceAndAnchor(t *testing.T) {
	path := writeFile(t, "req.yml", `
base: &u https://example.com/
url: *u
params:
  - x-name: id
    x-value: "1"
  - x-name: id
    x-value: "2"
`)

	out, err := readDescriptor(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", gjson.GetBytes(out, "url").String())
	assert.Equal(t, int64(2), gjson.GetBytes(out, "params.#").Int())
	assert.Equal(t, "2", gjson.GetBytes(out, "params.1.x-value").String())
}

func TestReadDescriptor_TOML(t *testing.T) {
	path := writeFile(t, "req.toml", `
url = "https://example.com/api"
method = "PUT"
no_redirect = true

[header]
Authorization = "Bearer abc"
`)

	out, err := readDescriptor(path, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"url": "https://example.com/api",
		"method": "PUT",
		"no_redirect": true,
		"header": {"Authorization": "Bearer abc"}
	}`, string(out))
}

func TestReadDescriptor_JSONPassesThrough(t *testing.T) {
	// Not valid JSON until {FUZZ} is substituted.
	tmpl := `{"url":"https://example.com/","params":{"n":{FUZZ}}}`
	path := writeFile(t, "tmpl.json", "\n"+tmpl+"\n")

	out, err := readDescriptor(path, nil)
	require.NoError(t, err)
	assert.Equal(t, tmpl, string(out))
}

func TestReadDescriptor_Stdin(t *testing.T) {
	out, err := readDescriptor("-", strings.NewReader(`{"url":"http://h/"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"url":"http://h/"}`, string(out))
}

func TestReadDescriptor_Errors(t *testing.T) {
	_, err := readDescriptor(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorContains(t, err, "failed to read descriptor")

	_, err = readDescriptor(writeFile(t, "bad.yaml", "url: [unclosed"), nil)
	assert.ErrorContains(t, err, "YAML")

	_, err = readDescriptor(writeFile(t, "bad.toml", "url = "), nil)
	assert.ErrorContains(t, err, "TOML")
}
