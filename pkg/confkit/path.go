package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const maxRootDepth = 8

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func isRoot(dir string) bool {
	return fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git"))
}

// walkUp calls visit for this source file's directory and each parent until
// visit returns true or maxRootDepth levels were seen.
func walkUp(visit func(dir string) bool) bool {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return false
	}
	dir := filepath.Dir(file)
	for i := 0; i < maxRootDepth; i++ {
		if visit(dir) {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

// ProjectRoot locates the module root: the nearest directory above this
// package holding go.mod or .git. It falls back to the working directory.
func ProjectRoot() (string, error) {
	var root string
	if walkUp(func(dir string) bool {
		if isRoot(dir) {
			root = dir
			return true
		}
		return false
	}) {
		return root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return ".", fmt.Errorf("getwd: %w", err)
	}
	return wd, nil
}

// ProjectPath joins the module root with rel.
func ProjectPath(rel string) (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}
