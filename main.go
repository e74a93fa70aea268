package main

import "github.com/fakeyudi/termctx/cmd"

func main() {
	cmd.Execute()
}
