// Package grantkey generates participant grant keys and mints grants.
package grantkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mughalz/investordefend/internal/platform/config"
	"github.com/mughalz/investordefend/internal/services/authority/grant"
)

// Run dispatches args: "keys" (the default) prints a fresh key pair as
// shell exports; "issue -participant ID" prints a grant signed with the
// key from the environment.
func Run(args []string, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if len(args) == 0 || args[0] == "keys" {
		return GenerateKeys(out, reader)
	}
	if args[0] != "issue" {
		return fmt.Errorf("unknown command %q (want keys or issue)", args[0])
	}

	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(out)
	participants := fs.String("participant", "", "Comma-separated participant IDs to issue grants for")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	signer, err := grant.LoadSignerConfigFromEnv(time.Now)
	if err != nil {
		return err
	}
	return Issue(out, strings.Split(*participants, ","), signer)
}

// GenerateKeys writes an Ed25519 key pair as export lines.
func GenerateKeys(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate grant key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export %s=%s\n", config.VarName(grant.EnvPrivateKey), base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export %s=%s\n", config.VarName(grant.EnvPublicKey), base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}

// Issue writes one "participant grant" line per participant.
func Issue(out io.Writer, participants []string, signer grant.SignerConfig) error {
	issued := 0
	for _, participant := range participants {
		participant = strings.TrimSpace(participant)
		if participant == "" {
			continue
		}
		token, err := grant.Issue(participant, signer)
		if err != nil {
			return fmt.Errorf("issue grant for %s: %w", participant, err)
		}
		if _, err := fmt.Fprintf(out, "%s %s\n", participant, token); err != nil {
			return err
		}
		issued++
	}
	if issued == 0 {
		return errors.New("at least one participant is required")
	}
	return nil
}
