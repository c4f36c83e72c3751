// Command voxelstream-server runs the preprocess, chunk, and
// performance HTTP endpoints against a configured data root.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/voxelstream/voxelstream/server"
	"github.com/voxelstream/voxelstream/voxel"
)

var (
	configFile = flag.String("config", "", "path to a TOML configuration file")
	httpAddr   = flag.String("http", "", "override the configured http_address")
	verbose    = flag.Bool("verbose", false, "enable debug logging")
	showHelp   = flag.Bool("help", false, "show this help message")
)

const helpMessage = `
voxelstream-server serves the chunked voxel-grid loading protocol.

Usage: voxelstream-server [options]

  -config <file>   TOML configuration file
  -http <address>  override the configured HTTP listen address
  -verbose         enable debug logging
  -help            show this message
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "show this help message")
	flag.Usage = usage
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if *verbose {
		voxel.Verbose = true
		voxel.SetLogMode(voxel.DebugMode)
	}

	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddress = *httpAddr
	}

	svc, err := server.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := svc.RunUntilSignal(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
