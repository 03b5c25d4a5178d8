package main

import (
	"os"

	distillcmder "github.com/quillml/distill/cmd/distill"
)

func main() {
	cmd := distillcmder.NewDistillCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
