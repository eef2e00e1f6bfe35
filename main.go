package main

import "github.com/urtextpiano-dev/urtext-sub005/cmd"

func main() {
	cmd.Execute()
}
