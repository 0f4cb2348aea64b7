package config

import (
	"fmt"
	"os"

	"github.com/subosito/gotenv"
)

// LoadFile reads a repository file of KEY=VALUE lines. Quoting, comments
// and "export" prefixes follow the usual dotenv rules.
func LoadFile(path string) (Environ, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open env file %s: %v", ErrConfig, path, err)
	}
	defer f.Close()

	parsed, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse the file %s: %v", ErrConfig, path, err)
	}
	return Environ(parsed), nil
}
