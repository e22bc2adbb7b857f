// Command asyncstorage reads and writes the configured host store through the
// async storage adapter.
package main

import (
	"os"

	"github.com/nimburion/asyncstorage/pkg/cli"
)

func main() {
	cli.Execute(cli.NewRootCommand(cli.CommandOptions{
		Name:        "asyncstorage",
		Description: "Async key-value storage over a host store",
		ConfigPath:  os.Getenv("ASYNCSTORAGE_CONFIG_FILE"),
	}))
}
