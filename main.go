package main

import "github.com/trvdang/memex/cmd"

func main() {
	cmd.Execute()
}
