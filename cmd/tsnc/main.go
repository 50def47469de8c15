// Command tsnc is the thin CLI driver around the pipeline (§1, §6):
// workspace scanning and on-disk cache inspection. Parsing/lowering a
// script body into IR needs an *ast.Node, which this module only
// consumes (§1's external-collaborator boundary) and does not produce,
// so tsnc's subcommands are the parts of the pipeline genuinely owned
// by this repo: discovering workspace sources and managing their
// cache inventory (§6.3).
//
// Grounded on the teacher's plain flag-driven compiler entry point,
// rebuilt as a cobra command tree per the ralph-cc and go-corset example
// manifests (both pair a compiler/VM core with a Cobra command tree).
package main

import (
	"os"

	"tsn/src/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// optionsFromFlags builds a util.Options from the persistent flags
// shared by every subcommand.
func optionsFromFlags(f *rootFlags) util.Options {
	opt := util.DefaultOptions()
	opt.WorkspaceRoot = f.workspaceRoot
	opt.CacheDir = f.cacheDir
	opt.Threads = f.threads
	opt.Verbose = f.verbose
	opt.OptLevel = f.optLevel
	opt.Trusted = f.trusted
	return opt
}
