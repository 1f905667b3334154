package main

import "github.com/neehar-mavuduru/daq-rawwriter/internal/cmd"

func main() {
	cmd.Execute()
}
