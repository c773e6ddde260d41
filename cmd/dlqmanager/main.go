// Command dlqmanager lists dead-letter queues and redrives or purges them.
package main

import (
	"github.com/nimburion/dlqmanager/pkg/cli"
	"github.com/nimburion/dlqmanager/pkg/version"
)

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        version.ServiceName,
		Description: "Dead-letter queue remediation: list, redrive and purge",
	}))
}
