package remote

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// fetchRequest is one "fetch <oid> <refname>" line from git.
type fetchRequest struct {
	OID string
	Ref string
}

func parseFetchLine(line string) (fetchRequest, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "fetch" {
		return fetchRequest{}, fmt.Errorf("malformed fetch line %q", line)
	}
	return fetchRequest{OID: fields[1], Ref: fields[2]}, nil
}

// fetchBatch downloads every requested object and its transitive closure
// into the local object store. The walk is an explicit LIFO over the object
// DAG; objects already present locally terminate their branch of the walk
// after being expanded once.
func (r *Remote) fetchBatch(requests []fetchRequest) error {
	queue := make([]string, 0, len(requests))
	for _, req := range requests {
		log.Debug().Str("oid", req.OID).Str("ref", req.Ref).Msg("Fetch requested.")
		queue = append(queue, req.OID)
	}

	visited := make(map[string]bool)
	downloaded := 0
	for len(queue) > 0 {
		oid := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if visited[oid] {
			continue
		}
		visited[oid] = true

		if oid == EmptyTreeOID && !r.git.Exists(oid) {
			// git never writes the empty tree to disk, so materialize it
			// instead of asking the remote for a file that may not exist
			if _, err := r.git.HashWrite("tree", nil); err != nil {
				return err
			}
			continue
		}

		if !r.git.Exists(oid) {
			if err := r.downloadObject(oid); err != nil {
				return err
			}
			downloaded++
		}

		children, err := r.objectChildren(oid)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}

	log.Info().Int("objects", downloaded).Msg("Fetch complete.")
	return nil
}

// downloadObject fetches one loose object file, decompresses it, writes it
// into the local store and verifies that the store agrees on its identity.
func (r *Remote) downloadObject(oid string) error {
	raw, err := r.api.Cat(r.remotePath(objectPath(oid)))
	if err != nil {
		return fmt.Errorf("could not download object %s: %w", oid, err)
	}
	kind, payload, err := decompressObject(raw)
	if err != nil {
		return fmt.Errorf("object %s: %w", oid, err)
	}
	written, err := r.git.HashWrite(kind, payload)
	if err != nil {
		return err
	}
	if written != oid {
		return fmt.Errorf("hash mismatch: downloaded %s but store wrote %s", oid, written)
	}
	log.Debug().Str("oid", oid).Str("kind", kind).Msg("Downloaded object.")
	return nil
}

// objectChildren returns the oids an object references, read back from the
// local store after insertion. Submodule gitlinks are skipped: their target
// commits live in other repositories.
func (r *Remote) objectChildren(oid string) ([]string, error) {
	kind, data, err := r.git.Read(oid)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "blob":
		return nil, nil
	case "tag":
		for _, line := range strings.Split(string(data), "\n") {
			if target, found := strings.CutPrefix(line, "object "); found {
				return []string{strings.TrimSpace(target)}, nil
			}
		}
		return nil, fmt.Errorf("tag %s has no object line", oid)
	case "commit":
		return commitChildren(data), nil
	case "tree":
		entries, err := parseTree(data)
		if err != nil {
			return nil, fmt.Errorf("tree %s: %w", oid, err)
		}
		children := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.Mode == gitlinkMode {
				log.Debug().
					Str("name", entry.Name).
					Str("oid", entry.OID).
					Msg("Skipping submodule gitlink.")
				continue
			}
			children = append(children, entry.OID)
		}
		return children, nil
	default:
		return nil, fmt.Errorf("object %s has unexpected kind %q", oid, kind)
	}
}

// commitChildren extracts the tree and parent oids from a raw commit. The
// tree is always the first header; parents follow contiguously.
func commitChildren(data []byte) []string {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return nil
	}
	children := []string{strings.TrimPrefix(lines[0], "tree ")}
	for _, line := range lines[1:] {
		parent, found := strings.CutPrefix(line, "parent ")
		if !found {
			break
		}
		children = append(children, strings.TrimSpace(parent))
	}
	return children
}
