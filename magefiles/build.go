//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

const binaryName = "vmsvga3d"

type Build mg.Namespace

// Binary compiles the host into bin/
func (Build) Binary() error {
	if err := goTidy(); err != nil {
		return err
	}
	if err := os.MkdirAll("bin", 0755); err != nil {
		return fmt.Errorf("failed to create bin directory: %w", err)
	}
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", binaryName), "."), withStream())
	return err
}

type Test mg.Namespace

// All runs every package test
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Race runs every package test with the race detector
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

type Lint mg.Namespace

// Vet runs go vet on every package
func (Lint) Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}

// Fmt fails when a source file is not gofmt formatted
func (Lint) Fmt() error {
	out, err := executeCmd("gofmt", withArgs("-l", "main.go", "engine", "testbed", "magefiles"))
	if err != nil {
		return err
	}
	if files := strings.TrimSpace(out); files != "" {
		return fmt.Errorf("files need gofmt:\n%s", files)
	}
	return nil
}
