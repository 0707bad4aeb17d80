package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/jstaf/git-remote-ipfs/cmd/common"
	"github.com/jstaf/git-remote-ipfs/gitcmd"
	"github.com/jstaf/git-remote-ipfs/ipfs"
	"github.com/jstaf/git-remote-ipfs/remote"
)

func usage() {
	fmt.Printf(`git-remote-ipfs - a git remote helper for IPFS.

git invokes this helper for remotes with ipfs:// URLs; it is not meant to be
run by hand (except for --history). The remote id may be an immutable CID or
a mutable IPNS name. Configuration lives at .git/ipfs/config.

Usage: git-remote-ipfs <remote-name> <url>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	// stdout carries the remote-helper protocol, so all logging goes to stderr
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logLevel := flag.StringP("log", "l", "",
		"Set logging level/verbosity. Can be one of: fatal, error, warn, info, debug, trace")
	history := flag.Bool("history", false,
		"Print the snapshot CIDs previously pushed from this repository and exit.")
	versionFlag := flag.BoolP("version", "v", false, "Display program version.")
	help := flag.BoolP("help", "h", false, "Displays this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println("git-remote-ipfs", common.Version())
		os.Exit(0)
	}
	if *logLevel != "" {
		zerolog.SetGlobalLevel(common.StringToLevel(*logLevel))
	}

	git := gitcmd.Exec{}
	gitDir, err := git.GitDir()
	if err != nil {
		log.Fatal().Err(err).Msg("Not inside a git repository.")
	}

	if *history {
		lines, err := remote.History(gitDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read snapshot history.")
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		os.Exit(0)
	}

	if len(flag.Args()) < 2 {
		flag.Usage()
		fmt.Fprintf(os.Stderr, "\nExpected <remote-name> <url> from git, exiting.\n")
		os.Exit(1)
	}
	remoteName, remoteURL := flag.Arg(0), flag.Arg(1)

	config, err := common.LoadConfig(gitDir)
	if err != nil {
		log.Fatal().Msg(err.Error())
	}

	api := ipfs.NewClient(
		ipfs.APIBase(config.URL, config.Port, config.VersionPrefix),
		time.Duration(config.Timeout*float64(time.Second)),
		config.UserName,
		config.UserPassword,
	)
	daemon, err := api.Version()
	if err != nil {
		log.Fatal().
			Err(err).
			Str("url", config.URL).
			Int("port", config.Port).
			Msg("Could not reach the IPFS daemon. Is it running?")
	}
	log.Debug().
		Str("version", daemon.Version).
		Str("commit", daemon.Commit).
		Msg("Connected to IPFS daemon.")

	r, err := remote.New(remoteName, remoteURL, api, git, config, gitDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse remote URL.")
	}
	r.Discover()

	if err = r.Run(os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Remote helper exited with an error.")
	}
}
