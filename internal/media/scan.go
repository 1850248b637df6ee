package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// Scan walks each root and returns supported media files in lexical order.
// Hidden files and directories are skipped. A root may also be a single file.
func Scan(roots ...string) ([]string, error) {
	var found []string
	for _, root := range roots {
		st, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		if !st.IsDir() {
			if Supported(root) {
				found = append(found, root)
			}
			continue
		}

		err = godirwalk.Walk(root, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if path != root && strings.HasPrefix(filepath.Base(path), ".") {
					return godirwalk.SkipThis
				}
				if de.IsRegular() && Supported(path) {
					found = append(found, path)
				}
				return nil
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	return found, nil
}
