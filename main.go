package main

import "bragi/cmd"

func main() {
	cmd.Execute()
}
