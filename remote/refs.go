package remote

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jstaf/git-remote-ipfs/ipfs"
)

// referenceNames recursively lists the reference files under prefix on the
// remote. Results are full names like "refs/heads/main", in no particular
// order.
func (r *Remote) referenceNames(prefix string) ([]string, error) {
	entries, err := r.api.Ls(r.remotePath(prefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		full := prefix + "/" + entry.Name
		switch {
		case entry.Type == ipfs.EntryDirectory && entry.Size == 0:
			children, err := r.referenceNames(full)
			if err != nil {
				return nil, err
			}
			names = append(names, children...)
		case entry.Type == ipfs.EntryFile:
			names = append(names, full)
		default:
			log.Info().
				Str("name", full).
				Int("type", entry.Type).
				Msg("Skipping unexpected entry under refs.")
		}
	}
	return names, nil
}

// readSymbolicRef reads a symbolic reference file like HEAD from the remote
// and returns its target. Returns "" when the file is absent or is not in
// "ref: <target>" form (a detached HEAD stores a bare oid).
func (r *Remote) readSymbolicRef(name string) string {
	if _, err := r.api.Ls(r.remotePath(name)); err != nil {
		return ""
	}
	content, err := r.api.Cat(r.remotePath(name))
	if err != nil {
		return ""
	}
	value := strings.TrimSpace(string(content))
	if !strings.HasPrefix(value, "ref: ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(value, "ref: "))
}

// loadReferences populates the remote reference map on first use. A remote
// whose refs/ cannot be listed is an empty repository: git may still push to
// it, and the first push will bootstrap its HEAD. Successive calls within
// one invocation return the same snapshot, so list output is stable.
func (r *Remote) loadReferences() error {
	if r.listed {
		return nil
	}
	r.listed = true
	r.refs = make(map[string]string)

	if !r.accessible {
		r.empty = true
		return nil
	}

	names, err := r.referenceNames("refs")
	if err != nil {
		log.Debug().Err(err).Msg("No refs directory on the remote, treating repository as empty.")
		r.empty = true
		return nil
	}
	for _, name := range names {
		content, err := r.api.Cat(r.remotePath(name))
		if err != nil {
			return err
		}
		r.refs[name] = strings.TrimSpace(string(content))
	}
	r.empty = len(r.refs) == 0
	r.head = r.readSymbolicRef("HEAD")
	return nil
}

// sortedRefNames returns the discovered reference names in lexical order,
// for deterministic list output.
func (r *Remote) sortedRefNames() []string {
	names := make([]string, 0, len(r.refs))
	for name := range r.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
