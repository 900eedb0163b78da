package cli

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat IMAGE PATH...",
	Short: "Write one or more files' contents to stdout",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, b, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer b.Close()

		for _, pathname := range args[1:] {
			f, err := fs.OpenFile(pathname, os.O_RDONLY)
			if err != nil {
				return errors.Wrapf(err, "opening %q", pathname)
			}
			_, err = io.Copy(os.Stdout, f)
			f.Close()
			if err != nil {
				return errors.Wrapf(err, "reading %q", pathname)
			}
		}
		return nil
	},
}
