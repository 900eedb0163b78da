// Command ext4recover browses an ext4 filesystem image read-only and
// recovers deleted files from its jbd2 journal.
package main

import (
	"os"

	"github.com/rfhayre/ext4recover/internal/cli"
)

func main() {
	if err := cli.RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
