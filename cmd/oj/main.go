package main

import (
	"fmt"
	"os"

	"github.com/ojdaemon/ojd/cmd/oj/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "oj: %v\n", err)
		os.Exit(1)
	}
}
