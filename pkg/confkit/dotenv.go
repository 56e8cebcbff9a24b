package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files once per process. ENV_FILE names an
// explicit file; otherwise every .env from this package up to the module
// root is read, nearest first. Set variables win unless DOTENV_OVERLOAD=1.
// NO_DOTENV=1 disables loading.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(paths ...string) {
		if overload {
			_ = godotenv.Overload(paths...)
		} else {
			_ = godotenv.Load(paths...)
		}
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}
	if !walkUp(func(dir string) bool {
		if p := filepath.Join(dir, ".env"); fileExists(p) {
			load(p)
		}
		return isRoot(dir)
	}) {
		load(".env")
	}
}
