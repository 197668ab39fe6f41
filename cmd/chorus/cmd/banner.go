package cmd

import (
	"fmt"
	"io"
)

const banner = `
       _
   ___| |__   ___  _ __ _   _ ___
  / __| '_ \ / _ \| '__| | | / __|
 | (__| | | | (_) | |  | |_| \__ \
  \___|_| |_|\___/|_|   \__,_|___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Account Service - Version %s\x1b[0m\n\n", Version)
}
