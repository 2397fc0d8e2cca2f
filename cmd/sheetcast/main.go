package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	err := newCLIApp(os.Stdout).Run(os.Args)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "fatal:", err)
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		os.Exit(ec.ExitCode())
	}
	os.Exit(1)
}
