package main

import "github.com/greenproof/greenproof/internal/cli"

func main() {
	cli.Execute()
}
