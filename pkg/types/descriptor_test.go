package types

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseDescriptor_ParamShapes(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Params
	}{
		{
			name: "named list",
			json: `{"url":"http://h/","params":[{"x-name":"b","x-value":"2"},{"x-name":"a","x-value":"1"}]}`,
			want: Params{{Name: "b", Values: []string{"2"}}, {Name: "a", Values: []string{"1"}}},
		},
		{
			name: "plain object keeps order",
			json: `{"url":"http://h/","params":{"z":"1","a":["2","3"],"n":5}}`,
			want: Params{
				{Name: "z", Values: []string{"1"}},
				{Name: "a", Values: []string{"2", "3"}, List: true},
				{Name: "n", Values: []string{"5"}},
			},
		},
		{
			name: "x-param single",
			json: `{"url":"http://h/","params":{"x-param":{"x-name":"id","x-value":"7"}}}`,
			want: Params{{Name: "id", Values: []string{"7"}}},
		},
		{
			name: "x-param list",
			json: `{"url":"http://h/","params":{"x-param":[{"x-name":"id","x-value":"7"},{"x-name":"q","x-value":"x"}]}}`,
			want: Params{{Name: "id", Values: []string{"7"}}, {Name: "q", Values: []string{"x"}}},
		},
		{
			name: "empty object",
			json: `{"url":"http://h/","params":{}}`,
			want: nil,
		},
		{
			name: "later name wins",
			json: `{"url":"http://h/","params":[{"x-name":"a","x-value":"1"},{"x-name":"a","x-value":"2"}]}`,
			want: Params{{Name: "a", Values: []string{"2"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDescriptor([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Params)
		})
	}
}

func TestParseDescriptor_Defaults(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"url":"http://h/x","method":"post","header":{"X-B":"1","Content-Type":"text/xml"}}`))
	require.NoError(t, err)

	assert.Equal(t, "POST", d.Method)
	assert.True(t, bool(d.History))
	assert.True(t, bool(d.NeedReturn))
	assert.False(t, bool(d.NeedSave))
	assert.Equal(t, Headers{{"X-B", "1"}, {"Content-Type", "text/xml"}}, d.Header)
	assert.Equal(t, "text/xml", d.Header.Get("content-type"))

	d, err = ParseDescriptor([]byte(`{"url":"http://h/"}`))
	require.NoError(t, err)
	assert.Equal(t, "GET", d.Method)
}

func TestParseDescriptor_StringFlags(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"url":"http://h/","needSave":"True","saveName":"a.bin","needReturn":"False","needExplore":"True","history":false,"no_redirect":true}`))
	require.NoError(t, err)

	assert.True(t, bool(d.NeedSave))
	assert.Equal(t, "a.bin", d.SaveName)
	assert.False(t, bool(d.NeedReturn))
	assert.True(t, bool(d.NeedExplore))
	assert.False(t, bool(d.History))
	assert.True(t, bool(d.NoRedirect))
}

func TestParseDescriptor_Files(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"url":"http://h/up","method":"POST","files":{"item":{"name":"f","content":"hex(68656c6c6f)"}}}`))
	require.NoError(t, err)
	require.Len(t, d.Files, 1)
	assert.Equal(t, "f", d.Files[0].Name)
	assert.Empty(t, d.Files[0].Filename)

	d, err = ParseDescriptor([]byte(`{"url":"http://h/up","files":{"item":[{"name":"a","filename":"a.php","content_type":"image/png","content":"x"},{"name":"b","content":"y"}]}}`))
	require.NoError(t, err)
	require.Len(t, d.Files, 2)
	assert.Equal(t, "a.php", d.Files[0].Filename)
	assert.Equal(t, "image/png", d.Files[0].ContentType)
}

func TestParseDescriptor_Malformed(t *testing.T) {
	for _, in := range []string{`{"url":`, `[]`, `{"method":"GET"}`, `{"url":""}`} {
		_, err := ParseDescriptor([]byte(in))
		var mde *MalformedDescriptorError
		require.True(t, errors.As(err, &mde), "input %s", in)
	}
}

func TestDescriptor_MarshalRoundTrip(t *testing.T) {
	in := `{"url":"http://h/a","method":"PUT","header":{"B":"2","A":"1"},"params":{"q":["1","2"],"p":"x"},"raw":"","needSave":"True","saveName":"s"}`
	d, err := ParseDescriptor([]byte(in))
	require.NoError(t, err)

	out, err := json.Marshal(d)
	require.NoError(t, err)

	again, err := ParseDescriptor(out)
	require.NoError(t, err)
	assert.Equal(t, d, again)
	assert.Equal(t, `{"B":"2","A":"1"}`, gjson.GetBytes(out, "header").Raw)
}

func TestDescriptor_CloneIsDeep(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"url":"http://h/","header":{"A":"1"},"params":{"q":["1"]}}`))
	require.NoError(t, err)

	c := d.Clone()
	c.Header.Set("A", "2")
	c.Params[0].Values[0] = "9"

	assert.Equal(t, "1", d.Header.Get("A"))
	assert.Equal(t, "1", d.Params[0].Values[0])
}

func TestParams_Encode(t *testing.T) {
	p := Params{
		{Name: "a b", Values: []string{"1&2"}},
		{Name: "l", Values: []string{"x", "y"}, List: true},
	}
	assert.Equal(t, "a+b=1%262&l=x&l=y", p.Encode(false))
	assert.Equal(t, "a b=1&2&l=x&l=y", p.Encode(true))
}

func TestResponseHeader_JSON(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1; Path=/")
	h.Add("Set-Cookie", "b=2")
	h.Add("Content-Type", "text/html")

	rh := ResponseHeaderFrom(h)
	out, err := json.Marshal(rh)
	require.NoError(t, err)

	assert.Equal(t, `{"content-type":"text/html","set-cookie":["a=1; Path=/","b=2"]}`, string(out))
	assert.Equal(t, "text/html", rh.Get("Content-Type"))

	rh.Set("set-cookie", "a=1; Path=/, b=2")
	out, err = json.Marshal(rh)
	require.NoError(t, err)
	assert.Equal(t, "a=1; Path=/, b=2", gjson.GetBytes(out, "set-cookie").String())
}

func TestFlag_Unmarshal(t *testing.T) {
	tests := map[string]bool{`true`: true, `"True"`: true, `"False"`: false, `false`: false, `1`: true, `"yes"`: true, `null`: false}
	for in, want := range tests {
		var f Flag
		require.NoError(t, json.Unmarshal([]byte(in), &f))
		assert.Equal(t, want, bool(f), in)
	}
}

func TestResult_HistoryNull(t *testing.T) {
	out, err := json.Marshal(Result{URL: "http://h/", Status: 200, Header: NewResponseHeader()})
	require.NoError(t, err)
	assert.Equal(t, gjson.Null, gjson.GetBytes(out, "history").Type)
	assert.False(t, gjson.GetBytes(out, "error").Exists())
}
