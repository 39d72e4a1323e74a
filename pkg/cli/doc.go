// Package cli provides the hotrun command line.
//
// The hotrun binary and an application's own dev entry point share it.
// An application registers its Go modules in init functions and hands
// its registry to Main:
//
//	package main
//
//	import (
//		_ "example.com/shop/src/backend"
//
//		"github.com/hotrun-dev/hotrun/pkg/cli"
//		"github.com/hotrun-dev/hotrun/pkg/module"
//	)
//
//	func main() {
//		cli.Main(cli.Options{Registry: module.DefaultRegistry})
//	}
//
// Commands:
//
//	hotrun init       Create a new project
//	hotrun dev        Start the dev orchestrator
//	hotrun run        Run an entry module without a server next to a frontend dev server
//	hotrun modules    Evaluate the entry module and list the module graph
//	hotrun version    Print version information
package cli
