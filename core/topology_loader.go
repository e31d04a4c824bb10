package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadTopology parses a newline-delimited list of "sourceIP,sinkIP" pairs.
// Extra columns are ignored; blank lines and lines starting with '#' are
// skipped. A line with fewer than two columns, or with an empty endpoint,
// fails the whole load rather than being dropped, since a silently partial
// graph would change the game.
func LoadTopology(r io.Reader) (*Topology, error) {
	if r == nil {
		return nil, fmt.Errorf("LoadTopology: reader is nil")
	}

	topo := NewTopology()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cols := strings.Split(line, ",")
		if len(cols) < 2 {
			return nil, fmt.Errorf("%w: line %d: want at least 2 columns, got %d", ErrMalformedTopology, lineNo, len(cols))
		}
		src := strings.TrimSpace(cols[0])
		dst := strings.TrimSpace(cols[1])
		if src == "" || dst == "" {
			return nil, fmt.Errorf("%w: line %d: empty node identifier", ErrMalformedTopology, lineNo)
		}
		topo.AddEdge(src, dst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("LoadTopology: read failed: %w", err)
	}
	if topo.NodeCount() == 0 {
		return nil, ErrEmptyTopology
	}
	return topo, nil
}

// LoadTopologyFile opens path and parses it with LoadTopology.
func LoadTopologyFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology %q: %w", path, err)
	}
	defer f.Close()

	topo, err := LoadTopology(f)
	if err != nil {
		return nil, fmt.Errorf("load topology %q: %w", path, err)
	}
	return topo, nil
}
