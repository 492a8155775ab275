// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sample

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Materialize copies assetDir/name into dataDir/name unless a local copy
// already exists, and returns the local path.
func Materialize(assetDir, dataDir, name string) (string, error) {
	local := filepath.Join(dataDir, name)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat local copy %s: %w", local, err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	src, err := os.Open(filepath.Join(assetDir, name))
	if err != nil {
		return "", fmt.Errorf("open asset %s: %w", name, err)
	}
	defer src.Close()

	// The local copy only appears once fully written.
	tmp, err := os.CreateTemp(dataDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp copy: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy asset %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp copy: %w", err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("install local copy: %w", err)
	}

	log.Printf("sample: copied asset %s to %s", name, local)
	return local, nil
}

// LoadRows parses a JSON array of equal-width numeric arrays.
func LoadRows(path string) ([][]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRows(raw)
}

// ParseRows is LoadRows on an in-memory document.
func ParseRows(raw []byte) ([][]float32, error) {
	var doc [][]float64
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rows: %w", err)
	}

	rows := make([][]float32, len(doc))
	for i, r := range doc {
		if i > 0 && len(r) != len(doc[0]) {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(r), len(doc[0]))
		}
		row := make([]float32, len(r))
		for j, v := range r {
			row[j] = float32(v)
		}
		rows[i] = row
	}
	return rows, nil
}

// Load materializes and parses both recordings and pairs them.
func Load(assetDir, dataDir, accFile, oriFile string) (*Sequence, error) {
	accPath, err := Materialize(assetDir, dataDir, accFile)
	if err != nil {
		return nil, err
	}
	oriPath, err := Materialize(assetDir, dataDir, oriFile)
	if err != nil {
		return nil, err
	}

	acc, err := LoadRows(accPath)
	if err != nil {
		return nil, fmt.Errorf("acc: %w", err)
	}
	ori, err := LoadRows(oriPath)
	if err != nil {
		return nil, fmt.Errorf("ori: %w", err)
	}

	seq, err := NewSequence(acc, ori)
	if err != nil {
		return nil, err
	}
	log.Printf("sample: loaded %d paired rows (acc width %d, ori width %d)", seq.Len(), width(acc), width(ori))
	return seq, nil
}

func width(rows [][]float32) int {
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}
