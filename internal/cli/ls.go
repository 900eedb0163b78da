package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rfhayre/ext4recover/filesystem/ext4"
)

var lsCmd = &cobra.Command{
	Use:   "ls IMAGE [PATH]",
	Short: "List a directory's entries",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pathname := "/"
		if len(args) > 1 {
			pathname = args[1]
		}

		fs, b, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer b.Close()

		entries, err := fs.ReadDir(pathname)
		if err != nil {
			return errors.Wrapf(err, "listing %q", pathname)
		}

		for _, e := range entries {
			kind := '-'
			if e.IsDir() {
				kind = 'd'
			} else if st, ok := e.Sys().(*ext4.StatT); ok && st.LinkTarget != "" {
				kind = 'l'
			}
			fmt.Printf("%c%s %10d %s\n", kind, e.Mode(), e.Size(), e.Name())
		}
		return nil
	},
}
