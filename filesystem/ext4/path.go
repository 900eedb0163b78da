package ext4

import "strings"

// disassemblePath splits an absolute path into its non-empty, non-"."
// segments, collapsing ".." against whatever came before it. It never looks
// at the filesystem: a leading ".." with nothing to collapse is simply
// dropped, same as the kernel does at the root of a mount.
func disassemblePath(p string) []string {
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return out
}
