// Command gendocs writes man pages and markdown reference pages for the
// hubcast CLI.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra/doc"

	"hubcast.dev/go/hubcast/internal/cli"
)

const (
	manDir      = "./man"
	markdownDir = "./docs/cli"
)

func main() {
	root := cli.RootCmd
	root.DisableAutoGenTag = true

	if err := os.MkdirAll(manDir, 0755); err != nil {
		log.Fatalf("create %s: %v", manDir, err)
	}
	header := &doc.GenManHeader{
		Title:   "HUBCAST",
		Section: "1",
		Source:  "hubcast",
		Manual:  "hubcast manual",
	}
	if err := doc.GenManTree(root, header, manDir); err != nil {
		log.Fatalf("generate man pages: %v", err)
	}
	log.Printf("Man pages written to %s", manDir)

	if err := os.MkdirAll(markdownDir, 0755); err != nil {
		log.Fatalf("create %s: %v", markdownDir, err)
	}
	if err := doc.GenMarkdownTree(root, markdownDir); err != nil {
		log.Fatalf("generate markdown: %v", err)
	}
	log.Printf("Markdown written to %s", markdownDir)
}
