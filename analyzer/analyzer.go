// Package analyzer turns raw text into the tokens the index stores and
// the query engine looks up. The same pipeline must run at ingest and
// at query time, or the exact-match conjunctions silently miss.
package analyzer

import (
	"regexp"
	"strings"

	snowballeng "github.com/kljensen/snowball/english"
)

// ascii matches the runs of ASCII letters and digits that become
// tokens; everything else is a separator.
var ascii = regexp.MustCompile("[A-Za-z0-9]+")

// Config controls the optional stages of the pipeline.
type Config struct {
	// EnableStemming reduces tokens to their Porter2 stem. Off by
	// default: stemmed and unstemmed indices are incompatible, so
	// this must be chosen once per index and kept for its lifetime.
	EnableStemming bool
}

// DefaultConfig returns the standard analyzer configuration.
func DefaultConfig() Config {
	return Config{EnableStemming: false}
}

// NormalizedTokens extracts lowercased ASCII alphanumeric tokens using
// the default configuration.
func NormalizedTokens(text string) []string {
	return NormalizedTokensWithConfig(text, DefaultConfig())
}

// NormalizedTokensWithConfig extracts tokens with a custom
// configuration.
func NormalizedTokensWithConfig(text string, cfg Config) []string {
	matches := ascii.FindAllString(text, -1)
	tokens := make([]string, len(matches))
	for i, m := range matches {
		tokens[i] = strings.ToLower(m)
	}
	if cfg.EnableStemming {
		for i, token := range tokens {
			tokens[i] = snowballeng.Stem(token, false)
		}
	}
	return tokens
}
