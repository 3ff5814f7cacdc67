// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Build expands the command line paths into the ordered list of absolute item
// paths. A single directory combined with a queue name means "every entry of
// that directory".
func Build(paths []string, queueName string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths given")
	}

	if queueName != "" && len(paths) == 1 {
		root, err := filepath.Abs(paths[0])
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("queue source: %w", err)
		}
		if info.IsDir() && !isDiscRoot(root) {
			entries, err := os.ReadDir(root)
			if err != nil {
				return nil, fmt.Errorf("read queue dir: %w", err)
			}
			out := make([]string, 0, len(entries))
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".") {
					continue
				}
				out = append(out, filepath.Join(root, e.Name()))
			}
			slices.Sort(out)
			return out, nil
		}
	}

	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("item %s: %w", p, err)
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out, nil
}

func isDiscRoot(dir string) bool {
	for _, marker := range []string{"BDMV", "VIDEO_TS", "HVDVD_TS"} {
		if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
