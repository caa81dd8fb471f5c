package script

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// File is a JavaScript source on disk. The compiled program is cached until
// the file's modification time changes or Invalidate is called.
type File struct {
	path   string
	config Config

	mu      sync.Mutex
	program *goja.Program
	modTime time.Time
	size    int64
}

// NewFile creates a source for the script at path
func NewFile(path string, config Config) *File {
	return &File{path: path, config: config}
}

// Name implements Source
func (f *File) Name() string { return f.path }

// Path returns the script path
func (f *File) Path() string { return f.path }

// Invalidate drops the cached program
func (f *File) Invalidate() {
	f.mu.Lock()
	f.program = nil
	f.mu.Unlock()
}

// Compile implements Source
func (f *File) Compile() (Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return nil, &CompileError{Name: f.path, Err: err}
	}
	if info.IsDir() {
		return nil, &CompileError{Name: f.path, Err: errors.New("script path is a directory")}
	}

	if f.program == nil || !info.ModTime().Equal(f.modTime) || info.Size() != f.size {
		src, err := os.ReadFile(f.path)
		if err != nil {
			return nil, &CompileError{Name: f.path, Err: fmt.Errorf("failed to read script: %w", err)}
		}
		prog, err := goja.Compile(f.path, string(src), false)
		if err != nil {
			f.program = nil
			return nil, &CompileError{Name: f.path, Err: err}
		}
		f.program = prog
		f.modTime = info.ModTime()
		f.size = info.Size()
	}

	return &jsProgram{name: f.path, program: f.program, config: f.config}, nil
}

// Inline is a JavaScript source held in memory
type Inline struct {
	name   string
	src    string
	config Config

	once    sync.Once
	program *goja.Program
	err     error
}

// NewInline creates an in-memory source
func NewInline(name, src string, config Config) *Inline {
	return &Inline{name: name, src: src, config: config}
}

// Name implements Source
func (s *Inline) Name() string { return s.name }

// Compile implements Source
func (s *Inline) Compile() (Program, error) {
	s.once.Do(func() {
		s.program, s.err = goja.Compile(s.name, s.src, false)
	})
	if s.err != nil {
		return nil, &CompileError{Name: s.name, Err: s.err}
	}
	return &jsProgram{name: s.name, program: s.program, config: s.config}, nil
}
