package webapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// encodingJS exposes btoa/atob on top of the Go codecs. Strings cross the
// boundary as Latin1 so every code unit maps to one byte.
const encodingJS = `
(function() {
	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError("btoa requires at least 1 argument(s)");
		var s = String(data);
		for (var i = 0; i < s.length; i++) {
			if (s.charCodeAt(i) > 255) {
				throw new Error("btoa: string contains characters outside of the Latin1 range");
			}
		}
		return __btoa(s);
	};
	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError("atob requires at least 1 argument(s)");
		var r = JSON.parse(__atob(String(data)));
		if (r.error) throw new Error("atob: " + r.error);
		return r.value;
	};
})();
`

var errInvalidBase64 = errors.New("invalid base64 string")

// latin1Encode base64-encodes s, treating each rune as one byte.
func latin1Encode(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// latin1Decode decodes forgiving base64 (whitespace and missing padding are
// accepted) into a Latin1 string.
func latin1Decode(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(strings.TrimSuffix(s, "="), "=")
	}
	if len(s)%4 == 1 || strings.Contains(s, "=") {
		return "", errInvalidBase64
	}
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return "", errInvalidBase64
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

// SetupEncoding registers atob/btoa.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__btoa", latin1Encode); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__atob", func(s string) string {
		v, err := latin1Decode(s)
		if err != nil {
			return marshalJSON(map[string]string{"error": err.Error()})
		}
		return marshalJSON(map[string]string{"value": v})
	}); err != nil {
		return err
	}
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
