// Package main is the olfstage command itself.
package main

import (
	"log"
	"os"

	"github.com/centuri-olf/olfcontrol/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
