// Package gitcmd is the helper's gateway to the local repository. Everything
// goes through the installed git binary: the helper must agree with git's own
// idea of reachability and dumb-layout info files, so there is no point
// reimplementing any of it.
package gitcmd

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Gateway is the plumbing contract the remote helper consumes. It exists as
// an interface so the transfer engines can be tested against an in-memory
// object store.
type Gateway interface {
	// TopLevel returns the working tree root. Fails outside a repository.
	TopLevel() (string, error)
	// GitDir returns the repository's .git directory (absolute).
	GitDir() (string, error)
	// RevParse resolves a revision to its full oid.
	RevParse(rev string) (string, error)
	// RevList enumerates every object reachable from ref, one oid per entry.
	RevList(ref string) ([]string, error)
	// Type returns the object kind: blob, tree, commit or tag.
	Type(oid string) (string, error)
	// Size returns the object payload size in bytes.
	Size(oid string) (int64, error)
	// Read returns an object's kind and raw payload bytes.
	Read(oid string) (string, []byte, error)
	// HashWrite inserts a payload into the object store and returns its oid.
	HashWrite(kind string, data []byte) (string, error)
	// Exists reports whether the object store holds oid.
	Exists(oid string) bool
	// IsAncestor reports whether a is an ancestor of b.
	IsAncestor(a, b string) (bool, error)
	// UpdateServerInfo regenerates info/refs and objects/info/packs.
	UpdateServerInfo() error
	// SetRemoteURL rewrites the stored URL of a remote.
	SetRemoteURL(name, url string) error
}

// Exec implements Gateway by spawning the git binary.
type Exec struct{}

func (Exec) run(stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", args[0], msg)
	}
	return out, nil
}

func (e Exec) line(args ...string) (string, error) {
	out, err := e.run(nil, args...)
	return strings.TrimSpace(string(out)), err
}

func (e Exec) TopLevel() (string, error) {
	return e.line("rev-parse", "--show-toplevel")
}

func (e Exec) GitDir() (string, error) {
	return e.line("rev-parse", "--absolute-git-dir")
}

func (e Exec) RevParse(rev string) (string, error) {
	return e.line("rev-parse", rev)
}

func (e Exec) RevList(ref string) ([]string, error) {
	out, err := e.run(nil, "rev-list", "--objects", ref)
	if err != nil {
		return nil, err
	}
	return ParseRevListOutput(out), nil
}

// ParseRevListOutput extracts oids from `rev-list --objects` output. Lines
// are "<oid>" for commits and "<oid> <path>" for trees and blobs.
func ParseRevListOutput(out []byte) []string {
	oids := make([]string, 0)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, ' '); i >= 0 {
			line = line[:i]
		}
		oids = append(oids, line)
	}
	return oids
}

func (e Exec) Type(oid string) (string, error) {
	return e.line("cat-file", "-t", oid)
}

func (e Exec) Size(oid string) (int64, error) {
	out, err := e.line("cat-file", "-s", oid)
	if err != nil {
		return 0, err
	}
	var size int64
	_, err = fmt.Sscanf(out, "%d", &size)
	return size, err
}

func (e Exec) Read(oid string) (string, []byte, error) {
	kind, err := e.Type(oid)
	if err != nil {
		return "", nil, err
	}
	// `cat-file <kind>` preserves binary content exactly, unlike -p which
	// pretty-prints trees
	data, err := e.run(nil, "cat-file", kind, oid)
	if err != nil {
		return "", nil, err
	}
	return kind, data, nil
}

func (e Exec) HashWrite(kind string, data []byte) (string, error) {
	out, err := e.run(data, "hash-object", "-w", "-t", kind, "--stdin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (e Exec) Exists(oid string) bool {
	_, err := e.run(nil, "cat-file", "-e", oid)
	return err == nil
}

func (e Exec) IsAncestor(a, b string) (bool, error) {
	cmd := exec.Command("git", "merge-base", "--is-ancestor", a, b)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base: %w", err)
}

func (e Exec) UpdateServerInfo() error {
	_, err := e.run(nil, "update-server-info")
	return err
}

func (e Exec) SetRemoteURL(name, url string) error {
	_, err := e.run(nil, "remote", "set-url", name, url)
	return err
}
