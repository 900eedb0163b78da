package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rfhayre/ext4recover/filesystem/ext4"
)

var statCmd = &cobra.Command{
	Use:   "stat IMAGE PATH",
	Short: "Print a decoded inode's metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pathname := args[1]

		fs, b, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer b.Close()

		info, err := fs.Stat(pathname)
		if err != nil {
			return errors.Wrapf(err, "stat %q", pathname)
		}

		fmt.Printf("File: %s\n", info.Name())
		fmt.Printf("Size: %d\n", info.Size())
		fmt.Printf("Mode: %s\n", info.Mode())

		st, ok := info.Sys().(*ext4.StatT)
		if !ok {
			return nil
		}
		fmt.Printf("Inode: %d\n", st.InodeNumber)
		fmt.Printf("Links: %d\n", st.Links)
		fmt.Printf("Uid: (%d/%s) Gid: (%d/%s)\n", st.UID, st.Owner, st.GID, st.Group)
		fmt.Printf("Access: %s\n", st.AccessTime)
		fmt.Printf("Modify: %s\n", st.ModifyTime)
		fmt.Printf("Change: %s\n", st.ChangeTime)
		fmt.Printf("Create: %s\n", st.CreateTime)
		if st.DeletionTime != 0 {
			fmt.Printf("Deleted: %d\n", st.DeletionTime)
		}
		if st.LinkTarget != "" {
			fmt.Printf("Link target: %s\n", st.LinkTarget)
		}
		return nil
	},
}
