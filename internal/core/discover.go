package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover expands paths into the files to load. Directories contribute
// their *.csv files (not recursive, sorted by name); explicit files are kept
// as given, whatever their extension.
func Discover(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// Specs pairs every file with the same source id. An empty id resolves each
// file by name.
func Specs(files []string, sourceID string) []FileSpec {
	specs := make([]FileSpec, len(files))
	for i, f := range files {
		specs[i] = FileSpec{Path: f, SourceID: sourceID}
	}
	return specs
}

func fileID(path string) string {
	return filepath.Base(path)
}
