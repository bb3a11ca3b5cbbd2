package main

import "github.com/newaysecurity/cctv-clocking/cmd"

func main() {
	cmd.Execute()
}
