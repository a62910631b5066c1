package main

import "agp/cmd"

func main() {
	cmd.Execute()
}
