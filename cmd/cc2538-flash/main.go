package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Debugf("exit: %v", err)
		os.Exit(1)
	}
}
