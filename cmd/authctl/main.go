package main

import "github.com/noah-isme/authd/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
