package main

import "video-transcoder/cmd"

func main() {
	cmd.Execute()
}
