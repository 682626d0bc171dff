package main

import "github.com/mvp-joe/code-indexer/internal/cli"

func main() {
	cli.Execute()
}
