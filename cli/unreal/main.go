package main

import (
	"os"

	unrealcmder "github.com/chatunreal/unreal/cmd/unreal"
)

func main() {
	cmd := unrealcmder.NewUnrealCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
