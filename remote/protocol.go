package remote

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jstaf/git-remote-ipfs/cmd/common"
)

// ErrUnsupported is returned when git sends a command the helper does not
// speak; the caller should exit non-zero.
var ErrUnsupported = fmt.Errorf("unsupported operation")

// Run drives the remote-helper line protocol until git closes the
// conversation. Commands arrive one per line on in; responses go to out and
// are flushed at every batch terminator. Anything human-readable goes to the
// logger (stderr) instead - out belongs to git.
func (r *Remote) Run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	r.w = bufio.NewWriter(out)

	for scanner.Scan() {
		line := scanner.Text()
		log.Debug().Str("line", line).Msg("<- git")

		switch {
		case line == "":
			// end of conversation
			return r.w.Flush()

		case line == "capabilities":
			r.writeln("option")
			r.writeln("list")
			r.writeln("push")
			r.writeln("fetch")
			r.writeln("")

		case strings.HasPrefix(line, "option "):
			r.handleOption(line)

		case line == "list" || line == "list for-push":
			if err := r.handleList(line == "list for-push"); err != nil {
				return err
			}

		case strings.HasPrefix(line, "push "):
			batch, err := r.collectBatch(scanner, line, "push ")
			if err != nil {
				return err
			}
			if err = r.push(batch); err != nil {
				return err
			}
			r.writeln("")

		case strings.HasPrefix(line, "fetch "):
			batch, err := r.collectBatch(scanner, line, "fetch ")
			if err != nil {
				return err
			}
			requests := make([]fetchRequest, 0, len(batch))
			for _, fetchLine := range batch {
				request, err := parseFetchLine(fetchLine)
				if err != nil {
					return err
				}
				requests = append(requests, request)
			}
			if err = r.fetchBatch(requests); err != nil {
				return err
			}
			r.writeln("")

		default:
			fmt.Fprintf(os.Stderr, "Unsupported operation: %s\n", line)
			return ErrUnsupported
		}

		if err := r.w.Flush(); err != nil {
			return err
		}
	}
	// git closed stdin without the final blank line; treat as a normal exit
	if err := scanner.Err(); err != nil {
		return err
	}
	return r.w.Flush()
}

// collectBatch gathers the remaining lines of a push or fetch batch up to
// the blank-line terminator.
func (r *Remote) collectBatch(scanner *bufio.Scanner, first, prefix string) ([]string, error) {
	batch := []string{first}
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug().Str("line", line).Msg("<- git")
		if line == "" {
			return batch, nil
		}
		if !strings.HasPrefix(line, prefix) {
			return nil, fmt.Errorf("unexpected line %q inside %sbatch", line, prefix)
		}
		batch = append(batch, line)
	}
	return batch, scanner.Err()
}

// handleOption applies a recognized option or declares it unsupported. Only
// verbosity is recognized; git tolerates "unsupported" for everything else.
func (r *Remote) handleOption(line string) {
	fields := strings.Fields(line)
	if len(fields) == 3 && fields[1] == "verbosity" {
		if verbosity, err := strconv.Atoi(fields[2]); err == nil {
			zerolog.SetGlobalLevel(common.VerbosityToLevel(verbosity))
			r.writeln("ok")
			return
		}
	}
	r.writeln("unsupported")
}

// handleList emits the remote reference map. A symbolic HEAD is advertised
// only for fetch-side lists; git does not want it for push.
func (r *Remote) handleList(forPush bool) error {
	if err := r.loadReferences(); err != nil {
		return err
	}
	for _, name := range r.sortedRefNames() {
		r.writeln("%s %s", r.refs[name], name)
	}
	if !forPush && r.head != "" {
		r.writeln("@%s HEAD", r.head)
	}
	r.writeln("")
	return nil
}

func (r *Remote) writeln(format string, args ...interface{}) {
	fmt.Fprintf(r.w, format+"\n", args...)
}
