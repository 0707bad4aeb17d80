package remote

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

// EmptyTreeOID is the oid git assigns the empty tree. It exists in every
// repository without ever being written to the object store, so remotes may
// reference it without shipping it.
const EmptyTreeOID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// objectPath maps an oid to its two-level loose object path.
func objectPath(oid string) string {
	return path.Join("objects", oid[:2], oid[2:])
}

// compressObject produces the loose-object wire form: the canonical
// "<kind> <size>\0<payload>" sequence, zlib-compressed.
func compressObject(kind string, payload []byte) []byte {
	buf := &bytes.Buffer{}
	zw := zlib.NewWriter(buf)
	fmt.Fprintf(zw, "%s %d\x00", kind, len(payload))
	zw.Write(payload)
	zw.Close()
	return buf.Bytes()
}

// decompressObject inverts compressObject and validates the header against
// the payload it frames.
func decompressObject(raw []byte) (kind string, payload []byte, err error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, fmt.Errorf("object is not zlib data: %w", err)
	}
	defer zr.Close()
	canonical, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, err
	}

	header, payload, found := bytes.Cut(canonical, []byte{0})
	if !found {
		return "", nil, fmt.Errorf("malformed object: no header terminator")
	}
	kindBytes, sizeBytes, found := bytes.Cut(header, []byte{' '})
	if !found {
		return "", nil, fmt.Errorf("malformed object header %q", header)
	}
	size, err := strconv.Atoi(string(sizeBytes))
	if err != nil {
		return "", nil, fmt.Errorf("malformed object header %q", header)
	}
	if size != len(payload) {
		return "", nil, fmt.Errorf("object header says %d bytes, payload has %d", size, len(payload))
	}
	return string(kindBytes), payload, nil
}

// treeEntry is one parsed entry of a raw tree object.
type treeEntry struct {
	Mode string
	Name string
	OID  string
}

// gitlink is the tree entry mode of a submodule reference. The commit it
// points at lives in another repository and must never be fetched from this
// remote.
const gitlinkMode = "160000"

// parseTree decodes a raw tree payload. Entries are
// "<mode> <name>\0<20-byte binary oid>" back to back.
func parseTree(data []byte) ([]treeEntry, error) {
	entries := make([]treeEntry, 0)
	for len(data) > 0 {
		header, rest, found := bytes.Cut(data, []byte{0})
		if !found || len(rest) < 20 {
			return nil, fmt.Errorf("truncated tree entry")
		}
		mode, name, found := bytes.Cut(header, []byte{' '})
		if !found {
			return nil, fmt.Errorf("malformed tree entry %q", header)
		}
		entries = append(entries, treeEntry{
			Mode: string(mode),
			Name: string(name),
			OID:  hex.EncodeToString(rest[:20]),
		})
		data = rest[20:]
	}
	return entries, nil
}
