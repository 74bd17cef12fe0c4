// Command pairpad is a small operator tool for a pairpad server: it mints
// development credentials, creates sessions, follows a live session and
// runs a session's code.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
)

const version = "0.1.0"

const usage = `Pairpad control.

The default server is http://localhost:8000.

Usage:
    pairpad mint --secret=<secret> --user=<id> [--username=<name>] [--ttl=<ttl>]
    pairpad create [--server=<url>] [--public_url=<url>] --jwt=<jwt>
        [--language=<language>] [--file=<path>]
    pairpad watch [--server=<url>] --jwt=<jwt> <token>
    pairpad run [--server=<url>] --jwt=<jwt> <token> [--stdin=<path>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --server=<url>           Server base url [default: http://localhost:8000].
    --public_url=<url>       Base url of the editor shown in the join link.
    --jwt=<jwt>              Access token for the server.
    --secret=<secret>        HS256 signing secret shared with the server.
    --user=<id>              User id claim.
    --username=<name>        Display name claim.
    --ttl=<ttl>              Token lifetime [default: 24h].
    --language=<language>    Session language.
    --file=<path>            Seed the session with this file.
    --stdin=<path>           Feed this file to the program's stdin.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mint_, _ := opts.Bool("mint"); mint_ {
		err = mint(opts)
	} else if create_, _ := opts.Bool("create"); create_ {
		err = create(ctx, opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		err = watch(ctx, opts)
	} else if run_, _ := opts.Bool("run"); run_ {
		err = run(ctx, opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "pairpad: %v\n", err)
		os.Exit(1)
	}
}

func mint(opts docopt.Opts) error {
	secret, _ := opts.String("--secret")
	user, _ := opts.String("--user")
	username, _ := opts.String("--username")
	ttlStr, _ := opts.String("--ttl")

	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		return fmt.Errorf("invalid --ttl %q: %w", ttlStr, err)
	}

	token, err := mintCredential(secret, user, username, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func create(ctx context.Context, opts docopt.Opts) error {
	server, _ := opts.String("--server")
	publicURL, _ := opts.String("--public_url")
	jwt, _ := opts.String("--jwt")
	language, _ := opts.String("--language")
	path, _ := opts.String("--file")

	var code string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		code = string(data)
	}

	token, err := createSession(ctx, server, jwt, code, language)
	if err != nil {
		return err
	}

	if publicURL == "" {
		publicURL = server
	}
	printJoinLink(os.Stdout, token, joinURL(publicURL, token), isTerminal(os.Stdout))
	return nil
}

func watch(ctx context.Context, opts docopt.Opts) error {
	server, _ := opts.String("--server")
	jwt, _ := opts.String("--jwt")
	token, _ := opts.String("<token>")

	return watchSession(ctx, os.Stdout, server, jwt, token)
}

func run(ctx context.Context, opts docopt.Opts) error {
	server, _ := opts.String("--server")
	jwt, _ := opts.String("--jwt")
	token, _ := opts.String("<token>")
	stdinPath, _ := opts.String("--stdin")

	var stdin string
	if stdinPath != "" {
		data, err := os.ReadFile(stdinPath)
		if err != nil {
			return err
		}
		stdin = string(data)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	result, err := runSession(ctx, server, jwt, token, stdin)
	if err != nil {
		return err
	}
	printResult(os.Stdout, os.Stderr, result)
	if result.ExitStatus != 0 {
		os.Exit(result.ExitStatus)
	}
	return nil
}
