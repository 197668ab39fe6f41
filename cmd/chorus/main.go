package main

import (
	"os"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/chorus/cmd/chorus/cmd"
)

func main() {
	code := cmd.Execute()
	memguard.Purge()
	os.Exit(code)
}
