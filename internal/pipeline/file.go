package pipeline

import (
	"path"
	"strings"
	"time"
)

// FileContext identifies one candidate input file for one dataset version.
type FileContext struct {
	Version string `json:"version"`
	Dir     string `json:"dir"`
	Path    string `json:"path"`
	Name    string `json:"name"`
	Ext     string `json:"ext"`
}

// NewFileContext builds a FileContext from a slash separated path relative
// to the version root.
func NewFileContext(version, p string) FileContext {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	name := path.Base(p)
	return FileContext{
		Version: version,
		Dir:     dir,
		Path:    p,
		Name:    name,
		Ext:     path.Ext(name),
	}
}

// String returns "<version>/<path>".
func (f FileContext) String() string {
	return f.Version + "/" + f.Path
}

// Metadata describes a file as reported by a Backend.
type Metadata struct {
	Size         int64
	LastModified *time.Time
}
