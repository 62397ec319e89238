package store

import (
	"path/filepath"
	"strings"
)

// MaxCandidates bounds the names tried for a single lookup.
const MaxCandidates = 16

// extAliases maps an extension (lower case, no dot) to the spelling clients
// interchange it with.
var extAliases = map[string]string{
	"jpg":  "jpeg",
	"jpeg": "jpg",
	"tif":  "tiff",
	"tiff": "tif",
}

// ExpandVariants returns filename followed by its alternate extension
// spelling, if the extension has one. The extension is matched ignoring case
// but the alias is appended as written in the table; case permutations are
// left to CandidateNames.
func ExpandVariants(filename string) []string {
	if filename == "" {
		return []string{filename}
	}
	ext := filepath.Ext(filename)
	if len(ext) < 2 {
		return []string{filename}
	}
	stem := strings.TrimSuffix(filename, ext)
	bare := ext[1:]

	alias, ok := extAliases[strings.ToLower(bare)]
	if !ok {
		return []string{filename}
	}
	return dedupe([]string{filename, stem + "." + alias})
}

// CandidateNames expands filename into the ordered names a lookup tries:
// every extension variant followed by its lower and upper case forms.
// The exact input is always first.
func CandidateNames(filename string) []string {
	var out []string
	for _, v := range ExpandVariants(filename) {
		out = append(out, v, strings.ToLower(v), strings.ToUpper(v))
	}
	out = dedupe(out)
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
