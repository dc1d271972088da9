package types

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Flag is a boolean that also accepts the "True"/"False" strings callers send.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = Flag(parseFlag(gjson.ParseBytes(data), false))
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

func parseFlag(r gjson.Result, def bool) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return r.Int() != 0
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(r.Str)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off", "":
			return false
		}
	}
	return def
}
