// Package cli implements the ext4recover command-line interface: a cobra
// command tree wrapping the read-only ext4 decoder and the undelete engine.
package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rfhayre/ext4recover/backend"
	"github.com/rfhayre/ext4recover/backend/file"
	"github.com/rfhayre/ext4recover/filesystem/ext4"
)

var (
	release = "0.0.0"
	commit  = ""
)

var (
	flagVerbosity int
	flagStart     int64
)

var log = logrus.StandardLogger()

// RootCommand is the ext4recover command tree's entry point.
var RootCommand = &cobra.Command{
	Use:   "ext4recover IMAGE",
	Short: "Inspect and recover deleted files from an ext4 filesystem image",
	Long: `ext4recover opens an ext4 filesystem image read-only and lets you browse
it the way a mounted filesystem would, or sweep its inode table and jbd2
journal for files that still have a recoverable copy after deletion.

It never writes to the image: creating, resizing or repairing a filesystem
are out of scope for this tool.`,
}

func init() {
	RootCommand.PersistentFlags().CountVarP(&flagVerbosity, "verbose", "v", "increase log verbosity (repeatable)")
	RootCommand.PersistentFlags().Int64Var(&flagStart, "start", 0, "byte offset within IMAGE at which the ext4 filesystem starts")
	RootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		switch flagVerbosity {
		case 0:
			log.SetLevel(logrus.WarnLevel)
		case 1:
			log.SetLevel(logrus.InfoLevel)
		default:
			log.SetLevel(logrus.DebugLevel)
		}
		return nil
	}

	RootCommand.AddCommand(versionCmd)
	RootCommand.AddCommand(lsCmd)
	RootCommand.AddCommand(catCmd)
	RootCommand.AddCommand(statCmd)
	RootCommand.AddCommand(restoreCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ext4recover version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ext4recover %s (%s)\n", release, commit)
	},
}

// openImage opens path read-only as an ext4 filesystem starting at the
// configured byte offset.
func openImage(path string) (*ext4.FileSystem, backend.Storage, error) {
	b, err := file.OpenFromPath(path, true)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %q", path)
	}
	fs, err := ext4.Open(b, flagStart)
	if err != nil {
		b.Close()
		return nil, nil, errors.Wrapf(err, "reading ext4 filesystem from %q", path)
	}
	return fs, b, nil
}
