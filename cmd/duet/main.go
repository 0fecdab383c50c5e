package main

import (
	"github.com/duet-run/duet/internal/cli"
	"github.com/duet-run/duet/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
