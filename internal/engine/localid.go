package engine

import (
	"strconv"
	"strings"
)

// Local ids read as "<model>_<key1>[_<key2>...]" and are unique across the
// whole registry, so every key tuple of every model must encode differently:
//
//   - the model name and string keys escape `\`, `_`, `(` and `)` with a
//     backslash, so an unescaped `_` always separates parts;
//   - integer keys are written in decimal, and a string key that reads as an
//     integer gets a leading `\`, so "42" and 42 name different records;
//   - a to-one identity key is the linked record's local id in parentheses.
//
// Keys without those characters encode as themselves ("message_42",
// "thread_mail.channel_7").
var idEscaper = strings.NewReplacer(`\`, `\\`, `_`, `\_`, `(`, `\(`, `)`, `\)`)

func localIDFor(model string, parts []string) string {
	var b strings.Builder
	b.WriteString(idEscaper.Replace(model))
	for _, p := range parts {
		b.WriteByte('_')
		b.WriteString(p)
	}
	return b.String()
}

func intKey(n int64) string {
	return strconv.FormatInt(n, 10)
}

func stringKey(s string) string {
	out := idEscaper.Replace(s)
	if looksLikeInt(s) {
		out = `\` + out
	}
	return out
}

func recordKey(localID string) string {
	return "(" + localID + ")"
}

func looksLikeInt(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// singletonShadowed reports whether the local id of singleton could also be
// produced by a keyed record of model.
func singletonShadowed(singleton, model string) bool {
	return strings.HasPrefix(singleton, idEscaper.Replace(model)+"_")
}
