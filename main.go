package main

import "os-downloads/cmd"

func main() {
	cmd.Execute()
}
