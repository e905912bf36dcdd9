package main

import (
	"os"

	"github.com/dhcgn/spam-report/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
