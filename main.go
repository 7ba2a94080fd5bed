package main

import "github.com/MeKo-Tech/tilecache/internal/cmd"

func main() {
	cmd.Execute()
}
