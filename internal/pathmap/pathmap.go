// Package pathmap normalizes script source identifiers: stripping the
// VM's `@`/`=` chunk-name prefixes, converting to forward slashes,
// resolving relative paths against a configured root, and defaulting a
// missing extension. Normalized paths are the identity used to key the
// breakpoint and file stores.
package pathmap

import (
	"path/filepath"
	"strings"
)

// Mapper normalizes raw VM chunk names and DAP source paths to a single
// canonical form.
type Mapper struct {
	root      string
	extension string
	entry     string
}

// New constructs a Mapper rooted at root, defaulting extension-less
// identifiers to extension (e.g. ".lua").
func New(root, extension string) *Mapper {
	if extension == "" {
		extension = ".lua"
	}
	return &Mapper{root: root, extension: extension}
}

// Normalize strips `@`/`=` chunk-name prefixes, converts backslashes to
// forward slashes, resolves a relative path against the configured
// root, defaults a missing extension, and weakly canonicalizes the
// result. Normalization is idempotent: Normalize(Normalize(p)) ==
// Normalize(p).
func (m *Mapper) Normalize(raw string) string {
	p := raw
	if len(p) > 0 && (p[0] == '@' || p[0] == '=') {
		p = p[1:]
	}
	p = strings.ReplaceAll(p, "\\", "/")

	if !filepath.IsAbs(p) && m.root != "" {
		p = filepath.ToSlash(filepath.Join(m.root, p))
	}

	if filepath.Ext(p) == "" {
		p += m.extension
	}

	return filepath.ToSlash(filepath.Clean(p))
}

// Equal reports whether two raw identifiers normalize to the same path.
func (m *Mapper) Equal(a, b string) bool {
	return m.Normalize(a) == m.Normalize(b)
}

// SetRoot changes the directory relative identifiers resolve against.
func (m *Mapper) SetRoot(root string) { m.root = root }

// SetEntry records the normalized path of the entry script, so
// break-on-entry can target line 1 of that file specifically.
func (m *Mapper) SetEntry(raw string) string {
	m.entry = m.Normalize(raw)
	return m.entry
}

// Entry returns the normalized entry-script path, or "" if none was set.
func (m *Mapper) Entry() string { return m.entry }

// IsEntry reports whether raw normalizes to the entry script's path.
func (m *Mapper) IsEntry(raw string) bool {
	return m.entry != "" && m.Normalize(raw) == m.entry
}
