package remote

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jstaf/git-remote-ipfs/cmd/common"
	"github.com/jstaf/git-remote-ipfs/ipfs"
)

// fakeDaemon emulates the handful of IPFS RPC endpoints the helper uses,
// serving an in-memory directory of repo-relative files under one root path.
type fakeDaemon struct {
	mu   sync.Mutex
	root string            // "/ipns/<name>" or a bare CID; "" means unreachable
	files map[string][]byte // repo-relative path -> content

	catRequests  []string
	addCalls     int
	manifest     map[string][]byte // file names and bodies of the last add
	addQuery     url.Values
	published    []url.Values
	pinRemoved   []string
	resolvedPath string // response to name/resolve
}

func newFakeDaemon(root string) *fakeDaemon {
	return &fakeDaemon{root: root, files: make(map[string][]byte)}
}

func (d *fakeDaemon) errorJSON(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"Message": msg, "Code": 0})
}

// relPath maps an absolute ls/cat argument onto the fake repo, or fails.
func (d *fakeDaemon) relPath(arg string) (string, bool) {
	if d.root == "" || !strings.HasPrefix(arg, d.root) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(arg, d.root), "/"), true
}

func (d *fakeDaemon) handleLs(w http.ResponseWriter, req *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rel, ok := d.relPath(req.URL.Query().Get("arg"))
	if !ok {
		d.errorJSON(w, 500, "could not resolve path")
		return
	}

	if _, isFile := d.files[rel]; isFile {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"Objects": []map[string]interface{}{{"Hash": "QmFile", "Links": []interface{}{}}},
		})
		return
	}

	// enumerate the direct children of the directory
	seen := make(map[string]ipfs.LsEntry)
	prefix := rel
	if prefix != "" {
		prefix += "/"
	}
	for name, content := range d.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if child, _, isDir := strings.Cut(rest, "/"); isDir {
			seen[child] = ipfs.LsEntry{Name: child, Hash: "QmDir", Type: ipfs.EntryDirectory}
		} else {
			seen[rest] = ipfs.LsEntry{
				Name: rest,
				Hash: "QmFile",
				Size: uint64(len(content)),
				Type: ipfs.EntryFile,
			}
		}
	}
	if len(seen) == 0 && rel != "" {
		d.errorJSON(w, 500, fmt.Sprintf("no link named %q", rel))
		return
	}
	links := make([]ipfs.LsEntry, 0, len(seen))
	for _, entry := range seen {
		links = append(links, entry)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	json.NewEncoder(w).Encode(map[string]interface{}{
		"Objects": []map[string]interface{}{{"Hash": "QmDir", "Links": links}},
	})
}

func (d *fakeDaemon) handleCat(w http.ResponseWriter, req *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rel, ok := d.relPath(req.URL.Query().Get("arg"))
	if !ok {
		d.errorJSON(w, 500, "could not resolve path")
		return
	}
	d.catRequests = append(d.catRequests, rel)
	content, found := d.files[rel]
	if !found {
		d.errorJSON(w, 500, fmt.Sprintf("no link named %q", rel))
		return
	}
	w.Write(content)
}

func (d *fakeDaemon) handleAdd(w http.ResponseWriter, req *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addCalls++
	d.addQuery = req.URL.Query()
	d.manifest = make(map[string][]byte)

	reader, err := req.MultipartReader()
	if err != nil {
		d.errorJSON(w, 400, err.Error())
		return
	}
	i := 0
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			d.errorJSON(w, 400, err.Error())
			return
		}
		content, _ := io.ReadAll(part)
		// Part.FileName applies filepath.Base since Go 1.17, which would strip
		// the directory components the client sends; read the raw
		// Content-Disposition filename instead.
		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			d.errorJSON(w, 400, err.Error())
			return
		}
		name := params["filename"]
		d.manifest[name] = content
		fmt.Fprintf(w, `{"Name":%q,"Hash":"QmFile%d","Size":"%d"}`+"\n", name, i, len(content))
		i++
	}
	fmt.Fprintf(w, `{"Name":"","Hash":"QmNewSnapshot","Size":"0"}`+"\n")
}

func (d *fakeDaemon) serve() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/version", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"Version": "0.29.0", "Commit": "deadbeef"})
	})
	mux.HandleFunc("/api/v0/ls", d.handleLs)
	mux.HandleFunc("/api/v0/cat", d.handleCat)
	mux.HandleFunc("/api/v0/add", d.handleAdd)
	mux.HandleFunc("/api/v0/name/resolve", func(w http.ResponseWriter, req *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.resolvedPath == "" {
			d.errorJSON(w, 500, "could not resolve name")
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"Path": d.resolvedPath})
	})
	mux.HandleFunc("/api/v0/name/publish", func(w http.ResponseWriter, req *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.published = append(d.published, req.URL.Query())
		json.NewEncoder(w).Encode(map[string]string{
			"Name":  "k51published",
			"Value": req.URL.Query().Get("arg"),
		})
	})
	mux.HandleFunc("/api/v0/pin/rm", func(w http.ResponseWriter, req *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		arg := req.URL.Query().Get("arg")
		d.pinRemoved = append(d.pinRemoved, arg)
		json.NewEncoder(w).Encode(map[string][]string{"Pins": {arg}})
	})
	return httptest.NewServer(mux)
}

// catRequested reports whether a repo-relative path was ever downloaded.
func (d *fakeDaemon) catRequested(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, requested := range d.catRequests {
		if requested == path {
			return true
		}
	}
	return false
}

type fakeObject struct {
	kind string
	data []byte
}

// fakeGit is an in-memory gitcmd.Gateway. Object identity uses real git
// hashing so round trips through the store behave like the real thing.
type fakeGit struct {
	gitDir    string
	objects   map[string]fakeObject
	refs      map[string]string   // rev -> oid, also holds HEAD
	revlists  map[string][]string // ref -> reachable oids
	ancestors map[string]bool     // "a b" -> a is ancestor of b
	remoteURL string
}

func newFakeGit(t *testing.T) *fakeGit {
	return &fakeGit{
		gitDir:    t.TempDir(),
		objects:   make(map[string]fakeObject),
		refs:      make(map[string]string),
		revlists:  make(map[string][]string),
		ancestors: make(map[string]bool),
	}
}

// oidOf hashes the canonical object form the way git does.
func oidOf(kind string, data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// addObject registers an object and returns its oid.
func (g *fakeGit) addObject(kind string, data []byte) string {
	oid := oidOf(kind, data)
	g.objects[oid] = fakeObject{kind: kind, data: data}
	return oid
}

func (g *fakeGit) TopLevel() (string, error) { return filepath.Dir(g.gitDir), nil }
func (g *fakeGit) GitDir() (string, error)   { return g.gitDir, nil }

func (g *fakeGit) RevParse(rev string) (string, error) {
	if oid, found := g.refs[rev]; found {
		return oid, nil
	}
	if _, found := g.objects[rev]; found {
		return rev, nil
	}
	return "", fmt.Errorf("unknown revision %s", rev)
}

func (g *fakeGit) RevList(ref string) ([]string, error) {
	oids, found := g.revlists[ref]
	if !found {
		return nil, fmt.Errorf("bad revision %s", ref)
	}
	return oids, nil
}

func (g *fakeGit) Type(oid string) (string, error) {
	obj, found := g.objects[oid]
	if !found {
		return "", fmt.Errorf("object %s not found", oid)
	}
	return obj.kind, nil
}

func (g *fakeGit) Size(oid string) (int64, error) {
	obj, found := g.objects[oid]
	if !found {
		return 0, fmt.Errorf("object %s not found", oid)
	}
	return int64(len(obj.data)), nil
}

func (g *fakeGit) Read(oid string) (string, []byte, error) {
	obj, found := g.objects[oid]
	if !found {
		return "", nil, fmt.Errorf("object %s not found", oid)
	}
	return obj.kind, obj.data, nil
}

func (g *fakeGit) HashWrite(kind string, data []byte) (string, error) {
	return g.addObject(kind, data), nil
}

func (g *fakeGit) Exists(oid string) bool {
	_, found := g.objects[oid]
	return found
}

func (g *fakeGit) IsAncestor(a, b string) (bool, error) {
	return g.ancestors[a+" "+b], nil
}

func (g *fakeGit) UpdateServerInfo() error {
	lines := make([]string, 0, len(g.refs))
	for name, oid := range g.refs {
		if !strings.HasPrefix(name, "refs/") {
			continue
		}
		lines = append(lines, oid+"\t"+name+"\n")
	}
	sort.Strings(lines)
	os.MkdirAll(filepath.Join(g.gitDir, "info"), 0700)
	os.MkdirAll(filepath.Join(g.gitDir, "objects", "info"), 0700)
	if err := os.WriteFile(filepath.Join(g.gitDir, "info", "refs"),
		[]byte(strings.Join(lines, "")), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.gitDir, "objects", "info", "packs"), nil, 0600)
}

func (g *fakeGit) SetRemoteURL(name, url string) error {
	g.remoteURL = url
	return nil
}

func testConfig() *common.Config {
	return &common.Config{
		URL:           "http://127.0.0.1",
		Port:          5001,
		VersionPrefix: "api/v0",
		Timeout:       5.0,
		IPNSTTLString: "2h",
		IPFSChunker:   "size-262144",
	}
}

// newTestRemote wires a Remote to a fake daemon and fake git store. The
// remote id is derived from the daemon root; an unreachable daemon root
// yields an inaccessible remote for the id "QmUnreachable".
func newTestRemote(t *testing.T, daemon *fakeDaemon, git *fakeGit, config *common.Config) *Remote {
	server := daemon.serve()
	t.Cleanup(server.Close)

	id := strings.TrimPrefix(daemon.root, "/ipns/")
	if id == "" {
		id = "QmUnreachable"
	}
	if config == nil {
		config = testConfig()
	}
	api := ipfs.NewClient(server.URL+"/api/v0", 5*time.Second, "", "")
	r, err := New("origin", "ipfs://"+id, api, git, config, git.gitDir)
	if err != nil {
		t.Fatalf("could not build remote: %v", err)
	}
	r.Discover()
	return r
}

// runHelper feeds a scripted conversation through the protocol driver and
// returns everything written to the protocol channel.
func runHelper(t *testing.T, r *Remote, input string) string {
	out := &strings.Builder{}
	if err := r.Run(strings.NewReader(input), out); err != nil {
		t.Fatalf("helper failed: %v\noutput so far:\n%s", err, out.String())
	}
	return out.String()
}
