// Package restyutil dumps raw HTTP exchanges to disk for debugging
// scrapes that went sideways. Outputs are wiped on startup, one file
// per message id.
package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

type InstrumentOutput interface {
	Write(id string, contents string)
}

type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) FilesystemOutput {
	os.RemoveAll(dir)
	err := os.MkdirAll(dir, 0o777)
	if err != nil {
		panic(err)
	}
	return FilesystemOutput{directory: dir}
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0o600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

// DiscardOutput drops everything, the zero default for non-verbose runs.
type DiscardOutput struct{}

func (DiscardOutput) Write(id string, contents string) {}
