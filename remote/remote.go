// Package remote implements the remote-helper side of git-remote-ipfs: the
// line protocol spoken with git over stdin/stdout and the push/fetch engines
// that move loose objects between the local repository and a dumb-layout
// directory on IPFS.
package remote

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jstaf/git-remote-ipfs/cmd/common"
	"github.com/jstaf/git-remote-ipfs/gitcmd"
	"github.com/jstaf/git-remote-ipfs/ipfs"
)

// Remote is the full state of one helper invocation. git spawns one helper
// process per remote interaction, so nothing here outlives a single
// push/fetch conversation.
type Remote struct {
	name string // the remote's name ("origin"), or the URL when anonymous
	id   string // the <id> part of ipfs://<id>

	// filled in by Discover
	ipfsPath   string // /ipns/<id> for mutable names, the raw CID otherwise
	isIPNS     bool
	accessible bool

	// filled in lazily by the first list
	listed bool
	empty  bool
	refs   map[string]string // full ref name -> oid
	head   string            // symbolic HEAD target on the remote, if any

	api    *ipfs.Client
	git    gitcmd.Gateway
	config *common.Config
	gitDir string

	w *bufio.Writer // protocol channel back to git
}

// New parses an ipfs:// URL and assembles a Remote around it.
func New(name, rawurl string, api *ipfs.Client, git gitcmd.Gateway, config *common.Config, gitDir string) (*Remote, error) {
	parts := strings.SplitN(rawurl, "://", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("malformed remote URL %q, expected ipfs://<cid or ipns name>", rawurl)
	}
	return &Remote{
		name:   name,
		id:     parts[1],
		api:    api,
		git:    git,
		config: config,
		gitDir: gitDir,
	}, nil
}

// Discover probes what kind of remote <id> is. A mutable name is tried
// first; a timeout or failure there falls through to treating <id> as an
// immutable CID. An unreachable remote is not an error yet - it becomes one
// only if git then asks us to fetch from it.
func (r *Remote) Discover() {
	ipnsPath := "/ipns/" + r.id
	if _, err := r.api.Ls(ipnsPath); err == nil {
		r.isIPNS = true
		r.accessible = true
		r.ipfsPath = ipnsPath
		log.Debug().Str("path", ipnsPath).Msg("Remote is a mutable name.")
		return
	} else if ipfs.IsTimeout(err) {
		log.Debug().Str("path", ipnsPath).Msg("IPNS probe timed out, trying as CID.")
	}

	if _, err := r.api.Ls(r.id); err == nil {
		r.accessible = true
		r.ipfsPath = r.id
		log.Debug().Str("path", r.id).Msg("Remote is an immutable CID.")
		return
	}

	r.accessible = false
	r.ipfsPath = r.id
	log.Debug().Str("id", r.id).Msg("Remote is not currently reachable.")
}

// IsIPNS reports whether the remote resolved as a mutable name.
func (r *Remote) IsIPNS() bool {
	return r.isIPNS
}

// remotePath joins a repository-relative name onto the discovery anchor.
func (r *Remote) remotePath(name string) string {
	return r.ipfsPath + "/" + name
}
