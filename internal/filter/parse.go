package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads one rule per line (see AddRule). Blank lines and lines
// starting with "#" are ignored.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if err := c.AddRule(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNum, err)
		}
	}
	return scanner.Err()
}
