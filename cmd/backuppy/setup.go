package main

import (
	"context"
	"fmt"
	"os"

	"github.com/acrlabs/backuppy/internal/backupset"
	"github.com/acrlabs/backuppy/internal/config"
	backupcrypto "github.com/acrlabs/backuppy/internal/crypto"
)

// loadSet reads configPath, resolves the named backup set, loads its
// owner key pair, and wires up the store driver behind it. Every
// subcommand that acts on a named backup set goes through this.
func loadSet(ctx context.Context, configPath, name string) (*backupset.Set, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	bs, err := cfg.Get(name)
	if err != nil {
		return nil, err
	}
	if bs.PrivateKeyFile == "" {
		return nil, fmt.Errorf("backup set %q has no private_key_file configured", name)
	}

	pemBytes, err := os.ReadFile(bs.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key for %s: %w", name, err)
	}
	priv, err := backupcrypto.LoadPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("load private key for %s: %w", name, err)
	}

	return backupset.New(ctx, name, bs, priv, &priv.PublicKey)
}
