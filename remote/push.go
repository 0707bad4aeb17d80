package remote

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jstaf/git-remote-ipfs/ipfs"
)

// pushBatch accumulates one batch of refspecs into an upload manifest. The
// whole batch becomes a single add call, so from git's point of view the
// remote snapshot changes atomically.
type pushBatch struct {
	refs    map[string]string // dst ref -> new oid
	objects map[string][]byte // loose object path -> compressed bytes
	deletes []string

	firstRef   string // first acked ref, HEAD fallback for fresh remotes
	headTarget string // ref matching local HEAD, preferred bootstrap target
	lastSrc    string // oid of the last pushed source, last-resort HEAD value
	total      int64  // compressed bytes staged
}

// push runs one batch of "push [+]<src>:<dst>" lines and finalizes the
// upload. Per-ref rejections are reported on the protocol channel and do not
// stop the batch; transport and plumbing failures abort it.
func (r *Remote) push(lines []string) error {
	// ensure the prior remote state is known; git normally issues
	// "list for-push" first, which already populated this
	if err := r.loadReferences(); err != nil {
		return err
	}
	localHead, _ := r.git.RevParse("HEAD")

	batch := &pushBatch{
		refs:    make(map[string]string),
		objects: make(map[string][]byte),
	}
	for _, line := range lines {
		if err := r.pushOne(batch, line, localHead); err != nil {
			return err
		}
	}

	if len(batch.refs) == 0 && len(batch.deletes) == 0 {
		// every refspec was rejected, nothing to upload
		return nil
	}
	return r.uploadSnapshot(batch)
}

// pushOne processes a single refspec line against the batch.
func (r *Remote) pushOne(batch *pushBatch, line string, localHead string) error {
	refspec := strings.TrimPrefix(line, "push ")
	src, dst, found := strings.Cut(refspec, ":")
	if !found {
		return fmt.Errorf("malformed push refspec %q", refspec)
	}

	if src == "" {
		// deletion: omitting the ref from the new snapshot deletes it
		if r.head != "" && r.head == dst {
			r.writeln("error %s refused to delete current branch", dst)
			return nil
		}
		batch.deletes = append(batch.deletes, dst)
		r.writeln("ok %s", dst)
		return nil
	}

	forced := strings.HasPrefix(src, "+")
	src = strings.TrimPrefix(src, "+")
	srcOID, err := r.git.RevParse(src)
	if err != nil {
		return fmt.Errorf("could not resolve %s: %w", src, err)
	}

	if !forced && !r.empty {
		if prior, known := r.refs[dst]; known && prior != "" && prior != srcOID {
			if !r.git.Exists(prior) {
				r.writeln("error %s fetch first", dst)
				return nil
			}
			ff, err := r.git.IsAncestor(prior, srcOID)
			if err != nil {
				return err
			}
			if !ff {
				r.writeln("error %s non-fast forward", dst)
				return nil
			}
		}
	}

	if err = r.stageObjects(batch, src); err != nil {
		return err
	}
	batch.refs[dst] = srcOID
	batch.lastSrc = srcOID
	if batch.firstRef == "" {
		batch.firstRef = dst
	}
	if r.empty && batch.headTarget == "" && srcOID == localHead {
		batch.headTarget = dst
	}
	r.writeln("ok %s", dst)
	return nil
}

// stageObjects compresses every object reachable from src into the batch.
func (r *Remote) stageObjects(batch *pushBatch, src string) error {
	oids, err := r.git.RevList(src)
	if err != nil {
		return err
	}
	for _, oid := range oids {
		objPath := objectPath(oid)
		if _, staged := batch.objects[objPath]; staged {
			continue
		}
		kind, payload, err := r.git.Read(oid)
		if err != nil {
			return err
		}
		compressed := compressObject(kind, payload)
		batch.objects[objPath] = compressed
		batch.total += int64(len(compressed))
	}
	return nil
}

// headContent decides what the uploaded HEAD file should say. A fresh remote
// gets the ref matching local HEAD; an existing remote keeps its current
// target. With no usable ref at all, HEAD degrades to a raw oid.
func (r *Remote) headContent(batch *pushBatch) string {
	target := r.head
	if r.empty {
		target = batch.headTarget
	}
	if target == "" {
		target = batch.firstRef
	}
	if target != "" {
		return "ref: " + target + "\n"
	}
	return batch.lastSrc + "\n"
}

// uploadSnapshot builds the dumb-layout manifest, uploads it as one wrapped
// directory and then repoints the remote at the new snapshot.
func (r *Remote) uploadSnapshot(batch *pushBatch) error {
	if err := r.git.UpdateServerInfo(); err != nil {
		return err
	}
	infoRefs, err := os.ReadFile(filepath.Join(r.gitDir, "info", "refs"))
	if err != nil {
		return fmt.Errorf("update-server-info produced no info/refs: %w", err)
	}
	// a repo that has never been repacked may not have a packs file
	packs, _ := os.ReadFile(filepath.Join(r.gitDir, "objects", "info", "packs"))

	files := []ipfs.AddFile{
		{Name: "HEAD", Body: strings.NewReader(r.headContent(batch))},
		{Name: "info/refs", Body: bytes.NewReader(infoRefs)},
		{Name: "objects/info/packs", Body: bytes.NewReader(packs)},
	}
	for _, ref := range sortedKeys(batch.refs) {
		files = append(files, ipfs.AddFile{
			Name: ref,
			Body: strings.NewReader(batch.refs[ref] + "\n"),
		})
	}
	for _, objPath := range sortedKeys(batch.objects) {
		files = append(files, ipfs.AddFile{
			Name: objPath,
			Body: bytes.NewReader(batch.objects[objPath]),
		})
	}

	entries, err := r.api.Add(files, ipfs.AddOptions{
		CIDVersion: r.config.CIDVersion,
		Chunker:    r.config.IPFSChunker,
	})
	if err != nil {
		return err
	}
	// the wrapping directory is the last entry of the streamed response
	newCID := entries[len(entries)-1].Hash
	log.Info().
		Int("objects", len(batch.objects)).
		Int64("bytes", batch.total).
		Str("cid", newCID).
		Msg("Uploaded new snapshot.")

	if err = appendHistory(r.gitDir, r.id, newCID); err != nil {
		log.Warn().Err(err).Msg("Could not record snapshot in history.")
	}

	if r.isIPNS {
		return r.publishSnapshot(newCID)
	}
	return r.repointRemote(newCID)
}

// publishSnapshot updates the mutable name to the new snapshot, honoring the
// UnpinOld and Republish settings. Publish failures are not fatal: the
// snapshot exists, the user just has to repoint the name themselves.
func (r *Remote) publishSnapshot(newCID string) error {
	oldPath, err := r.api.NameResolve(r.ipfsPath)
	if err != nil {
		log.Debug().Err(err).Msg("Could not resolve prior snapshot.")
	} else {
		log.Debug().Str("old", oldPath).Str("new", newCID).Msg("Replacing snapshot.")
	}

	if r.config.UnpinOld && oldPath != "" {
		if _, err = r.api.PinRm(oldPath); err != nil {
			log.Warn().Err(err).Str("path", oldPath).Msg("Could not unpin old snapshot.")
		}
	}

	if !r.config.Republish {
		log.Warn().
			Str("cid", newCID).
			Msg("Republish is disabled: point your remote at the new CID manually " +
				"or enable Republish in the config.")
		return nil
	}

	key := path.Base(r.ipfsPath)
	published, err := r.api.NamePublish("/ipfs/"+newCID, key, r.config.IPNSTTLString)
	if err != nil {
		log.Warn().
			Err(err).
			Str("cid", newCID).
			Msg("Publishing the new snapshot failed; switch to the CID above manually.")
		return nil
	}
	log.Info().Str("name", published.Name).Str("cid", newCID).Msg("Published new snapshot.")
	return nil
}

// repointRemote rewrites the stored remote URL after a push to an immutable
// CID; the old URL still names the pre-push snapshot. This mutates the
// repository config, so say so out loud.
func (r *Remote) repointRemote(newCID string) error {
	newURL := "ipfs://" + newCID
	log.Info().
		Str("remote", r.name).
		Str("url", newURL).
		Msg("Rewriting remote URL to the new snapshot.")
	if err := r.git.SetRemoteURL(r.name, newURL); err != nil {
		return fmt.Errorf("pushed snapshot %s but could not update the remote URL: %w", newCID, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
