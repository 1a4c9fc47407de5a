package main

import "github.com/vantu-dev/pairlink/cmd"

func main() {
	cmd.Execute()
}
