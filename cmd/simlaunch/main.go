package main

import (
	"github.com/Paintersrp/simlaunch/internal/cli"
	"github.com/Paintersrp/simlaunch/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
