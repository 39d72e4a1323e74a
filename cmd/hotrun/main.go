// Command hotrun runs a Go web application in development with hot reload.
//
// The stock binary only knows the data modules under the project root. An
// application with Go modules builds its own entry point around pkg/cli
// so that its init functions register them.
package main

import "github.com/hotrun-dev/hotrun/pkg/cli"

func main() {
	cli.Main(cli.Options{})
}
