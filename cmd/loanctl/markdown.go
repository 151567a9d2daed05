package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
)

// printMarkdown renders md for the terminal, falling back to the raw text
// when rendering fails.
func printMarkdown(w io.Writer, md string) {
	out, err := glamour.Render(md, "dark")
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	fmt.Fprint(w, out)
}
