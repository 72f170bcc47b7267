package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIndex(t *testing.T) {
	apache := `<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">
<html><head><title>Index of /lib</title></head><body>
<h1>Index of /lib</h1>
<pre><a href="?C=N;O=D">Name</a> <a href="?C=M;O=A">Last modified</a>
<a href="/">Parent Directory</a>
<a href="util.js">util.js</a>
<a href="vendor/">vendor/</a>
<a href="util.js">util.js</a>
</pre></body></html>`

	tests := []struct {
		name   string
		path   string
		body   string
		want   []string
		listed bool
	}{
		{"simple listing", "/d", indexOfD, []string{"a.js", "sub"}, true},
		{"server listing", "/lib", apache, []string{"util.js", "vendor"}, true},
		{"title for another path", "/other", indexOfD, nil, false},
		{"plain javascript", "/d", "module.exports = '<title>Index of /d</title>'", nil, false},
		{"html without marker", "/d", "<!DOCTYPE html><html><head><title>Home</title></head><body><a href=x>x</a></body></html>", nil, false},
		{"empty listing", "/e", "<!DOCTYPE html><html><head><title>Index of /e/</title></head><body></body></html>", []string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, ok := ParseIndex(tt.path, []byte(tt.body))
			assert.Equal(t, tt.listed, ok)
			if tt.listed {
				assert.Equal(t, tt.want, names)
			}
		})
	}
}
