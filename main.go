package main

import "github.com/ghyeongl/savesync/cmd"

func main() {
	cmd.Execute()
}
