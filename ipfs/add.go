package ipfs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// AddFile is one named file in an add upload. Body is pulled lazily while the
// request streams, so a large upload never needs to exist in memory at once.
type AddFile struct {
	Name string
	Body io.Reader
}

// AddOptions are the add parameters the helper always pins down explicitly.
// The daemon's defaults for these have changed between releases and a dumb
// repository layout must hash the same way every push.
type AddOptions struct {
	CIDVersion int
	Chunker    string
}

// AddedEntry is one line of the daemon's streamed add response.
type AddedEntry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Add uploads the given files wrapped in a single new directory and pins the
// result. The response is newline-delimited JSON, one entry per file; the
// wrapping directory is the final entry.
func (c *Client) Add(files []AddFile, opts AddOptions) ([]AddedEntry, error) {
	args := url.Values{}
	args.Set("wrap-with-directory", "true")
	args.Set("pin", "true")
	args.Set("raw-leaves", "true")
	args.Set("cid-version", fmt.Sprint(opts.CIDVersion))
	args.Set("chunker", opts.Chunker)
	endpoint := c.base + "/add?" + args.Encode()

	// the multipart body is generated on the fly as the daemon reads it
	bodyReader, bodyWriter := io.Pipe()
	form := multipart.NewWriter(bodyWriter)
	go func() {
		for _, file := range files {
			part, err := form.CreateFormFile("file", file.Name)
			if err != nil {
				bodyWriter.CloseWithError(err)
				return
			}
			if _, err = io.Copy(part, file.Body); err != nil {
				bodyWriter.CloseWithError(err)
				return
			}
		}
		bodyWriter.CloseWithError(form.Close())
	}()

	request, err := http.NewRequest("POST", endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	request.Close = true
	request.Header.Set("Content-Type", form.FormDataContentType())
	if c.user != "" && c.password != "" {
		request.SetBasicAuth(c.user, c.password)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		body, _ := io.ReadAll(response.Body)
		var daemonErr apiError
		json.Unmarshal(body, &daemonErr)
		return nil, &Error{Status: response.StatusCode, Message: daemonErr.Message}
	}

	entries := make([]AddedEntry, 0, len(files)+1)
	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry := AddedEntry{}
		if err = json.Unmarshal(line, &entry); err != nil {
			log.Debug().Err(err).Msg("Skipping unparseable add response line.")
			continue
		}
		entries = append(entries, entry)
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("add returned no entries")
	}
	return entries, nil
}
