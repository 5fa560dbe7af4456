package main

import "github.com/perimos/perimos/internal/cli"

func main() {
	cli.Execute()
}
