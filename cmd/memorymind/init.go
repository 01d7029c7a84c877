package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sincerelyyyash/memory-mind/internal/defaults"
)

// runInit initializes a memorymind working directory with default files.
// It creates the data directory and writes an example configuration.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing memorymind workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dir, "memorymind.yaml")
	created, err := writeIfMissing(configPath, defaults.ConfigYAML)
	if err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}
	if created {
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	} else {
		fmt.Fprintf(w, "  - %s exists, skipping\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit memorymind.yaml, then start the server with: memorymind serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, reporting whether it wrote. Init never overwrites user
// customizations.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	return true, os.WriteFile(path, content, 0o644)
}
