package replay

import (
	"testing"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeQuery(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		params types.Params
		raw    bool
		want   string
	}{
		{
			name:   "params override",
			url:    "http://h/x?a=1",
			params: types.Params{{Name: "a", Values: []string{"2"}}},
			want:   "http://h/x?a=2",
		},
		{
			name:   "survivors first value",
			url:    "http://h/x?b=1&b=2&a=0",
			params: types.Params{{Name: "a", Values: []string{"9"}}},
			want:   "http://h/x?b=1&a=9",
		},
		{
			name:   "no existing query",
			url:    "http://h/x",
			params: types.Params{{Name: "q", Values: []string{"a b"}}},
			want:   "http://h/x?q=a+b",
		},
		{
			name:   "raw join",
			url:    "http://h/x?keep=%2e%2e",
			params: types.Params{{Name: "f", Values: []string{"../etc/passwd"}}},
			raw:    true,
			want:   "http://h/x?keep=..&f=../etc/passwd",
		},
		{
			name:   "list expands",
			url:    "http://h/x?",
			params: types.Params{{Name: "id", Values: []string{"1", "2"}, List: true}},
			want:   "http://h/x?id=1&id=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeQuery(tt.url, tt.params, tt.raw))
		})
	}
}

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		current, location, want string
	}{
		{"http://h/old/path", "/new", "http://h/new"},
		{"http://h/old/path", "next", "http://h/old/next"},
		{"http://h", "next", "http://h/next"},
		{"https://h:8443/a/b?x=1", "c?y=2", "https://h:8443/a/c?y=2"},
		{"http://h/a", "https://other/z", "https://other/z"},
	}

	for _, tt := range tests {
		got, err := resolveLocation(tt.current, tt.location)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s + %s", tt.current, tt.location)
	}
}

func TestFileContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []byte
	}{
		{"hex literal", "hex(68656c6c6f)", []byte("hello")},
		{"bad hex literal", "hex(zz)", []byte{}},
		{"bare hex", "cafe", []byte{0xca, 0xfe}},
		{"plain text", "<?php echo 1; ?>", []byte("<?php echo 1; ?>")},
		{"empty", "", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fileContent(tt.content))
		})
	}
}

func TestMultipartBody(t *testing.T) {
	files := types.Files{{Name: "f", Filename: "a.php", ContentType: "image/png", Content: "hex(41)"}}
	params := types.Params{{Name: "k", Values: []string{"v"}}}

	body, contentType, err := multipartBody(files, params, "----WebKitFormBoundary0123456789abcdef")
	require.NoError(t, err)

	assert.Equal(t, "multipart/form-data; boundary=----WebKitFormBoundary0123456789abcdef", contentType)
	want := "------WebKitFormBoundary0123456789abcdef\r\n" +
		"Content-Disposition: form-data; name=\"f\"; filename=\"a.php\"\r\n" +
		"Content-Type: image/png\r\n\r\n" +
		"A\r\n" +
		"------WebKitFormBoundary0123456789abcdef\r\n" +
		"Content-Disposition: form-data; name=\"k\"\r\n\r\n" +
		"v\r\n" +
		"------WebKitFormBoundary0123456789abcdef--\r\n"
	assert.Equal(t, want, string(body))
}

func TestNewBoundary(t *testing.T) {
	b := newBoundary()
	assert.Len(t, b, len("----WebKitFormBoundary")+16)
	assert.NotEqual(t, b, newBoundary())
}

func TestBuild_BodyPrecedence(t *testing.T) {
	d, err := types.ParseDescriptor([]byte(`{"url":"http://h/x","method":"DELETE","params":{"id":"7"}}`))
	require.NoError(t, err)

	out, err := build(d)
	require.NoError(t, err)
	assert.Equal(t, "http://h/x?id=7", out.url)
	assert.Nil(t, out.body)

	d, err = types.ParseDescriptor([]byte(`{"url":"http://h/x","method":"PUT","params":{"id":"a b"},"no_url_encode":true}`))
	require.NoError(t, err)
	out, err = build(d)
	require.NoError(t, err)
	assert.Equal(t, "http://h/x", out.url)
	assert.Equal(t, "id=a b", string(out.body))
	assert.Equal(t, "application/x-www-form-urlencoded", out.header.Get("Content-Type"))
}

func TestScrub(t *testing.T) {
	in := "<p>a</p>\n<svg xmlns=\"x\">\n<circle/>\n</SVG>\n\n\n<p>b</p><svg></svg>"
	assert.Equal(t, "<p>a</p>\n<p>b</p>", Scrub(in))
	assert.Equal(t, "plain", Scrub("plain"))
}

func TestCookieJar(t *testing.T) {
	jar := &cookieJar{}
	jar.absorb([]string{"a=1; HttpOnly", "bare"})
	jar.absorb([]string{"b=2"})

	assert.Equal(t, "a=1; b=2", jar.header())
	assert.Equal(t, "a=1; HttpOnly, bare, b=2", jar.setCookie())
	assert.Equal(t, "x=y; a=1; b=2", cookieHeader("x=y", jar.header()))
	assert.Equal(t, "x=y", cookieHeader("x=y", ""))
}
