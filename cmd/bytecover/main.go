package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/bytecover/cmd/bytecover/app"
	"github.com/zjy-dev/bytecover/internal/logger"
)

func main() {
	defer logger.Close()
	if err := app.NewBytecoverCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		logger.Close()
		os.Exit(1)
	}
}
