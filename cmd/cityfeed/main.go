package main

import (
	"os"

	appLog "cityfeed/internal/log"
)

func main() {
	err := rootCmd.Execute()
	appLog.Sync()
	if err != nil {
		os.Exit(1)
	}
}
