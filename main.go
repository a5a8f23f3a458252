package main

import (
	"os"

	"github.com/stefanjohn16/edgecache/coremain"
	"github.com/stefanjohn16/edgecache/mlog"
)

func main() {
	if err := coremain.Run(); err != nil {
		mlog.S().Error(err)
		os.Exit(1)
	}
}
