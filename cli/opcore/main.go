// Package main is the opcore command itself.
package main

import (
	"log"
	"os"

	"go.opcore.dev/opcore/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
