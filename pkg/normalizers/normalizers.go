// Package normalizers provides string normalization used to build identity keys.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("fold", Fold)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("digits_only", DigitsOnly)
	Register("nemail", NormalizeEmail)
	Register("nphone", DigitsOnly)
	Register("identity", Identity)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer. Unknown names fall back to Identity.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return Identity(value)
	}
	return fn(value)
}

func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

func Lowercase(s string) string {
	return strings.ToLower(s)
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

var folder = cases.Fold()

// Fold applies NFKC compatibility normalization and Unicode case folding, so
// "ＡＣＭＥ" and "acme" fold to the same string.
func Fold(s string) string {
	return folder.String(norm.NFKC.String(s))
}

// CollapseWhitespace replaces runs of whitespace with a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Identity is the default normalization for canonical names and identity fields.
func Identity(s string) string {
	return CollapseWhitespace(Fold(s))
}
