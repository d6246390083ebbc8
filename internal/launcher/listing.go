package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxListingEntries caps the missing-executable directory dump.
const maxListingEntries = 5000

var errListingTruncated = errors.New("listing truncated")

// listTree writes the recursive contents of root in `find -L .` form,
// descending into symlinked directories and skipping directories already
// visited through another path.
func listTree(w io.Writer, root string, limit int) error {
	visited := make(map[string]struct{})
	count := 0

	var walk func(dir, display string) error
	walk = func(dir, display string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return nil
		}
		if _, seen := visited[real]; seen {
			return nil
		}
		visited[real] = struct{}{}

		entries, err := os.ReadDir(dir)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", display, err)
			return nil
		}
		for _, entry := range entries {
			if count >= limit {
				return errListingTruncated
			}
			path := filepath.Join(dir, entry.Name())
			shown := display + "/" + entry.Name()
			fmt.Fprintln(w, shown)
			count++

			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				continue
			}
			if err := walk(path, shown); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintln(w, ".")
	err := walk(root, ".")
	if errors.Is(err, errListingTruncated) {
		fmt.Fprintf(w, "... listing truncated after %d entries\n", limit)
		return nil
	}
	return err
}
