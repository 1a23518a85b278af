package main

import "github.com/ValentinKolb/lfmm/cmd"

func main() {
	cmd.Execute()
}
