package orchestrator

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Discover walks roots collecting every *.gctf file, then orders the work
// queue per how (spec.md §6/§10 --sort: name, size, mtime, random) before
// dispatch to the worker pool.
func Discover(roots []string, how string) ([]string, error) {
	var files []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			if strings.HasSuffix(path, ".gctf") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sortFiles(files, how)
	return files, nil
}

func sortFiles(files []string, how string) {
	switch how {
	case "size":
		sort.Slice(files, func(i, j int) bool {
			return fileSize(files[i]) < fileSize(files[j])
		})
	case "mtime":
		sort.Slice(files, func(i, j int) bool {
			return fileModTime(files[i]).Before(fileModTime(files[j]))
		})
	case "random":
		rand.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	default: // "name"
		sort.Strings(files)
	}
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func fileModTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
