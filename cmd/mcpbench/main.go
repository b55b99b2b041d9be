package main

import "github.com/mcpbench/mcpbench/internal/cli"

func main() {
	cli.Execute()
}
