package message

import (
	"strconv"
	"strings"
)

// Container identifies a top-level root of the element tree.
type Container int

const (
	ContainerMain Container = iota
	ContainerSidebar
)

// String returns the container name used in logs and position keys
func (c Container) String() string {
	switch c {
	case ContainerMain:
		return "main"
	case ContainerSidebar:
		return "sidebar"
	default:
		return "container(" + strconv.Itoa(int(c)) + ")"
	}
}

// Position addresses one slot in the element tree.
//
// Path holds the indices of every enclosing block followed by the index of
// the slot inside its parent. A position is derived purely from write-call
// order, so the same control flow always yields the same positions.
type Position struct {
	Container Container `json:"container"`
	Path      []int     `json:"path"`
}

// Root returns the position of a container's root block (empty path)
func Root(c Container) Position {
	return Position{Container: c}
}

// Child returns the position of the i-th slot inside the block at p
func (p Position) Child(i int) Position {
	path := make([]int, len(p.Path)+1)
	copy(path, p.Path)
	path[len(p.Path)] = i
	return Position{Container: p.Container, Path: path}
}

// Key returns a stable string form, e.g. "main:0.2"
func (p Position) Key() string {
	var sb strings.Builder
	sb.WriteString(p.Container.String())
	sb.WriteByte(':')
	for i, idx := range p.Path {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// String implements fmt.Stringer
func (p Position) String() string {
	return p.Key()
}
