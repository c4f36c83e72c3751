// Command voxelstream-fetch drives a single DataSource.LoadData call
// against a running voxelstream server, for smoke-testing a deployment
// without a browser attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/voxelstream/voxelstream/cache"
	"github.com/voxelstream/voxelstream/loader"
)

var (
	serverURL = flag.String("server", "http://localhost:8500", "base URL of the voxelstream server")
	chunkSize = flag.Uint64("chunk-size", 1<<20, "chunk size, in elements")
	cacheDir  = flag.String("cache-dir", "", "directory for the local byte and layout caches (default: a temp dir)")
	showHelp  = flag.Bool("help", false, "show this help message")
)

const helpMessage = `
voxelstream-fetch loads one file through the chunked voxel-grid protocol.

Usage: voxelstream-fetch [options] <file>

  -server <url>       base URL of the voxelstream server (default http://localhost:8500)
  -chunk-size <n>      chunk size in elements (default 1048576)
  -cache-dir <dir>     local cache directory (default: a temp dir)
  -help                show this message
`

func main() {
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if *showHelp || flag.NArg() != 1 {
		flag.Usage()
		os.Exit(0)
	}
	file := flag.Arg(0)

	dir := *cacheDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "voxelstream-fetch")
		if err != nil {
			fatal(err)
		}
	}

	bytesStore, err := cache.OpenByteStore(filepath.Join(dir, "bytes"), false)
	if err != nil {
		fatal(err)
	}
	defer bytesStore.Close()

	layoutStore, err := cache.NewLayoutStore(filepath.Join(dir, "layout.json"))
	if err != nil {
		fatal(err)
	}

	wb := cache.NewWriteback(bytesStore)
	defer wb.Close()

	ds := &loader.DataSource{BaseURL: *serverURL, Layout: layoutStore, Bytes: bytesStore, Writeback: wb}

	start := time.Now()
	result, err := ds.LoadData(context.Background(), file, *chunkSize, nil)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("loaded %s: shape %s, %s of data, fetched in %s (all from cache: %v)\n",
		file, result.Shape, humanize.Bytes(result.DataLength*8), time.Since(start), result.AllFromCache)
	fmt.Printf("min=%v max=%v\n", result.Min, result.Max)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
