// Package parser defines the FieldParser contract: converting an
// on-disk file into a flat array of doubles, or, cheaply, into just its
// shape. Only the contract is in scope for this repository; parser.go
// and rawgrid.go provide the one adapter this server ships with, and
// the registry by which additional adapters could be added by file
// extension, modeled on a by-name engine registry.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blang/semver"

	"github.com/voxelstream/voxelstream/voxel"
)

// FieldParser converts a file on disk into a voxel grid. ShapeOnly must
// be cheap: it should read only enough of the file to determine the
// grid's extent, never the payload.
type FieldParser interface {
	// ShapeOnly returns the grid's shape without reading the full payload.
	ShapeOnly(file string) (voxel.Shape, error)

	// Full returns the shape and the complete flattened array of doubles.
	Full(file string) (voxel.Shape, []float64, error)
}

// Adapter is a named, versioned FieldParser registered for one or more
// file extensions.
type Adapter interface {
	FieldParser
	Name() string
	SemVer() semver.Version
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Adapter{}
)

// Register associates an adapter with a file extension (including the
// leading dot, e.g. ".vgrid"). A later registration for the same
// extension replaces the earlier one.
func Register(ext string, a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(ext)] = a
}

// ForFile resolves the adapter registered for file's extension.
func ForFile(file string) (Adapter, error) {
	ext := strings.ToLower(filepath.Ext(file))
	registryMu.RLock()
	a, found := registry[ext]
	registryMu.RUnlock()
	if !found {
		return nil, voxel.ParserNotFoundf(ext)
	}
	return a, nil
}

// Registered returns the extensions with a registered adapter, for
// diagnostics and the server's /healthz endpoint.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	return exts
}

// String helper used in error messages and logs.
func describe(a Adapter) string {
	return fmt.Sprintf("%s [%s]", a.Name(), a.SemVer())
}
