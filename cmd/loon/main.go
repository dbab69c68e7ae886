package main

import "github.com/looncoop/loon/cmd/loon/cmd"

func main() {
	cmd.Execute()
}
