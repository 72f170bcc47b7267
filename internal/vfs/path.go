package vfs

import (
	"path"
	"strings"
)

// Clean returns the canonical absolute form of p.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Join resolves rel against base the way the guest's path module does:
// absolute rel replaces base, ".." segments collapse, the result is absolute.
func Join(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return Clean(rel)
	}
	return Clean(base + "/" + rel)
}

// Dir strips the final segment of p.
func Dir(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the final segment of p.
func Base(p string) string {
	return path.Base(Clean(p))
}

func childPrefix(dir string) string {
	if dir == "/" {
		return "/"
	}
	return dir + "/"
}

func ancestors(p string) []string {
	var out []string
	for d := Dir(p); ; d = Dir(d) {
		out = append(out, d)
		if d == "/" {
			return out
		}
	}
}
