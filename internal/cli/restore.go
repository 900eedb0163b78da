package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rfhayre/ext4recover/undelete"
)

var (
	flagOutDir          string
	flagIncludeReserved bool
)

// restoreCmd sweeps IMAGE's inode table and journal for deleted files with a
// recoverable predecessor. Recovery is best-effort: a predecessor's data is
// re-read from IMAGE's *current* blocks, so a file whose extents were since
// reused comes back truncated or garbled rather than not at all.
var restoreCmd = &cobra.Command{
	Use:   "restore IMAGE",
	Short: "Recover deleted files from an ext4 image's journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, b, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer b.Close()

		results, err := undelete.Run(fs, undelete.Options{
			OutDir:          flagOutDir,
			Logger:          log,
			IncludeReserved: flagIncludeReserved,
		})
		if err != nil {
			return errors.Wrap(err, "restoring deleted files")
		}

		for _, r := range results {
			fmt.Printf("restored inode %d (deleted %s): %s (%d bytes)\n",
				r.InodeNumber, r.DeletionTime, r.Path, r.Bytes)
		}
		fmt.Printf("%d file(s) restored to %s\n", len(results), flagOutDir)
		return nil
	},
}

func init() {
	f := restoreCmd.Flags()
	f.StringVarP(&flagOutDir, "output", "o", "RESTORED", "directory to write recovered files into")
	f.BoolVar(&flagIncludeReserved, "include-reserved", false, "also attempt to restore reserved (below first non-reserved) inodes")
}
