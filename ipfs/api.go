package ipfs

import (
	"encoding/json"
	"net/url"
)

// VersionInfo is the daemon's response to the version command.
type VersionInfo struct {
	Version string `json:"Version"`
	Commit  string `json:"Commit"`
}

// Version probes the daemon. This is the helper's reachability check; a
// failure here means no other command can work either.
func (c *Client) Version() (VersionInfo, error) {
	resp, err := c.Request("version", nil)
	info := VersionInfo{}
	if err == nil {
		err = json.Unmarshal(resp, &info)
	}
	return info, err
}

// Entry types as reported by ls.
const (
	EntryDirectory = 1
	EntryFile      = 2
)

// LsEntry is one link inside a directory listed with ls.
type LsEntry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size uint64 `json:"Size"`
	Type int    `json:"Type"`
}

type lsObject struct {
	Hash  string    `json:"Hash"`
	Links []LsEntry `json:"Links"`
}

type lsResponse struct {
	Objects []lsObject `json:"Objects"`
}

// Ls lists the links of the directory at an IPFS or IPNS path.
func (c *Client) Ls(path string) ([]LsEntry, error) {
	args := url.Values{}
	args.Set("arg", path)
	resp, err := c.Request("ls", args)
	if err != nil {
		return nil, err
	}
	listing := lsResponse{}
	if err = json.Unmarshal(resp, &listing); err != nil {
		return nil, err
	}
	entries := make([]LsEntry, 0)
	for _, obj := range listing.Objects {
		entries = append(entries, obj.Links...)
	}
	return entries, nil
}

// Cat returns the raw bytes of the file at an IPFS or IPNS path.
func (c *Client) Cat(path string) ([]byte, error) {
	args := url.Values{}
	args.Set("arg", path)
	return c.Request("cat", args)
}

type nameResolveResponse struct {
	Path string `json:"Path"`
}

// NameResolve resolves a mutable name to its current /ipfs/<cid> path.
func (c *Client) NameResolve(name string) (string, error) {
	args := url.Values{}
	args.Set("arg", name)
	resp, err := c.Request("name/resolve", args)
	if err != nil {
		return "", err
	}
	resolved := nameResolveResponse{}
	if err = json.Unmarshal(resp, &resolved); err != nil {
		return "", err
	}
	return resolved.Path, nil
}

// NamePublishResponse is the daemon's response to name/publish.
type NamePublishResponse struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// NamePublish points the mutable name owned by key at an IPFS path.
// allow-offline lets the record be created without reachable DHT peers, and
// base36 keeps the printed name in the modern compact form.
func (c *Client) NamePublish(ipfsPath, key, lifetime string) (NamePublishResponse, error) {
	args := url.Values{}
	args.Set("arg", ipfsPath)
	args.Set("key", key)
	args.Set("lifetime", lifetime)
	args.Set("allow-offline", "true")
	args.Set("resolve", "true")
	args.Set("ipns-base", "base36")
	published := NamePublishResponse{}
	resp, err := c.Request("name/publish", args)
	if err == nil {
		err = json.Unmarshal(resp, &published)
	}
	return published, err
}

type pinRmResponse struct {
	Pins []string `json:"Pins"`
}

// PinRm recursively unpins an IPFS path and returns the removed pins.
func (c *Client) PinRm(path string) ([]string, error) {
	args := url.Values{}
	args.Set("arg", path)
	args.Set("recursive", "true")
	resp, err := c.Request("pin/rm", args)
	if err != nil {
		return nil, err
	}
	removed := pinRmResponse{}
	if err = json.Unmarshal(resp, &removed); err != nil {
		return nil, err
	}
	return removed.Pins, nil
}
