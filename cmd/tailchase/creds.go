package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tailchase/tailchase/internal/config"
	"github.com/tailchase/tailchase/internal/creds"
)

// runCreds manages the encrypted WiGLE credentials file.
//
//	tailchase creds set    store a token (passphrase + token read from stdin)
//	tailchase creds check  verify the stored token decrypts
func runCreds(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: tailchase creds <set|check> [-config path]")
		os.Exit(2)
	}
	sub := args[0]

	fs := flag.NewFlagSet("creds", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args[1:])

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	path := cfg.GetString("creds.path")

	switch sub {
	case "set":
		passphrase, token, err := readCredentials(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read credentials: %v\n", err)
			os.Exit(1)
		}
		if err := creds.Save(path, passphrase, token); err != nil {
			fmt.Fprintf(os.Stderr, "save credentials: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("credentials saved to %s\n", path)

	case "check":
		fmt.Fprint(os.Stderr, "passphrase: ")
		r := bufio.NewReader(os.Stdin)
		passphrase, err := r.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "read passphrase: %v\n", err)
			os.Exit(1)
		}
		if _, err := creds.Load(path, strings.TrimSpace(passphrase)); err != nil {
			if errors.Is(err, creds.ErrBadPassphrase) {
				fmt.Fprintln(os.Stderr, "wrong passphrase")
			} else {
				fmt.Fprintf(os.Stderr, "load credentials: %v\n", err)
			}
			os.Exit(1)
		}
		fmt.Println("credentials ok")

	default:
		fmt.Fprintf(os.Stderr, "unknown creds subcommand %q\n", sub)
		os.Exit(2)
	}
}

// readCredentials prompts for the passphrase and token on consecutive
// stdin lines.
func readCredentials(in *os.File) (passphrase, token string, err error) {
	r := bufio.NewReader(in)

	fmt.Fprint(os.Stderr, "passphrase: ")
	passphrase, err = r.ReadString('\n')
	if err != nil {
		return "", "", err
	}

	fmt.Fprint(os.Stderr, "WiGLE API token: ")
	token, err = r.ReadString('\n')
	if err != nil {
		return "", "", err
	}

	passphrase = strings.TrimSpace(passphrase)
	token = strings.TrimSpace(token)
	if passphrase == "" || token == "" {
		return "", "", errors.New("passphrase and token must not be empty")
	}
	return passphrase, token, nil
}
