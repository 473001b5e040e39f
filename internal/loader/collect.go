package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"docqa/internal/domain"
)

// Collect expands file paths and doublestar patterns into uploads. Every
// matched file must have a supported extension and be at most maxBytes long
// (maxBytes <= 0 disables the size check).
func Collect(patterns []string, maxBytes int64) ([]domain.Upload, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no file matches %q", p)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)

	uploads := make([]domain.Upload, 0, len(paths))
	for _, p := range paths {
		if Format(p) == "" {
			return nil, fmt.Errorf("%w: %s (accepted: pdf, docx, txt)", domain.ErrUnsupportedFormat, filepath.Base(p))
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			return nil, fmt.Errorf("%s is %d bytes, limit is %d", filepath.Base(p), info.Size(), maxBytes)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, domain.Upload{Filename: filepath.Base(p), Data: data})
	}
	return uploads, nil
}
