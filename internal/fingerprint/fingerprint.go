// Package fingerprint derives the cache key under which a document's vector
// index is persisted.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
)

// Suffix is appended to the digest to form the index directory name.
const Suffix = "_db"

// Of returns hex(md5(path)) + "_db".
// The key depends on the path string only, not on the file's content.
func Of(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:]) + Suffix
}

// Dir returns the index directory for path under root.
func Dir(root, path string) string {
	return filepath.Join(root, Of(path))
}
