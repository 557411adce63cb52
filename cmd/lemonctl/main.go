package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
)

func main() {
	defer glog.Flush()

	cmd := newRootCmd()
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
