/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// queubious is a virtual waiting room: it admits a bounded number of
// concurrent visitors to a downstream application and queues the rest in
// strict arrival order.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/queubious/queubious/internal/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.yml", "path to the configuration file")
	flag.Parse()

	if err := app.Run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "queubious: %v\n", err)
		os.Exit(1)
	}
}
