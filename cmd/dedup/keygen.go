// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dedupvault/lib/config"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/sealed"
	"github.com/bureau-foundation/dedupvault/lib/secret"
)

func keygenCommand() *command {
	var (
		configPath   string
		masterPath   string
		identityPath string
		skipIdentity bool
	)
	return &command{
		name:    "keygen",
		summary: "Create the server's master secret and index state keypair",
		usage:   "dedup keygen [--master PATH] [--state-identity PATH]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file supplying default paths")
			flagSet.StringVar(&masterPath, "master", "", "master secret path (default: keys.master_secret_file)")
			flagSet.StringVar(&identityPath, "state-identity", "", "age identity path for sealing index state (default: keys.state_identity_file or <root>/state.age)")
			flagSet.BoolVar(&skipIdentity, "no-state-identity", false, "only create the master secret")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen takes no arguments")
			}
			var (
				cfg *config.Config
				err error
			)
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}
			if masterPath == "" {
				masterPath = cfg.Keys.MasterSecretFile
			}
			if identityPath == "" {
				identityPath = cfg.Keys.StateIdentityFile
			}
			if identityPath == "" {
				identityPath = filepath.Join(cfg.Storage.Root, "state.age")
			}

			if err := writeMasterSecret(masterPath); err != nil {
				return err
			}
			fmt.Printf("master secret written to %s\n", masterPath)
			if skipIdentity {
				return nil
			}

			publicKey, err := writeStateIdentity(identityPath)
			if err != nil {
				return err
			}
			fmt.Printf("state identity written to %s\n", identityPath)
			fmt.Printf("add to keys.state_recipients: %s\n", publicKey)
			return nil
		},
	}
}

func writeMasterSecret(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	master, err := secret.Random(dedup.MinMasterSecretSize)
	if err != nil {
		return err
	}
	defer master.Close()
	return secret.WriteHexFile(path, master)
}

func writeStateIdentity(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", err
	}
	defer keypair.Close()
	if err := secret.WriteFile(path, keypair.PrivateKey); err != nil {
		return "", err
	}
	return keypair.PublicKey, nil
}
