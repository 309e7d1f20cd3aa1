package main

import (
	"fmt"

	"github.com/spf13/cobra"

	backupcrypto "github.com/acrlabs/backuppy/internal/crypto"
	"github.com/acrlabs/backuppy/internal/ioiter"
	"github.com/acrlabs/backuppy/internal/manifest"
	"github.com/acrlabs/backuppy/internal/util"
)

const plumbingWarning = `WARNING: this command is considered "plumbing" and should be used for
debugging or exceptional cases only. Used incorrectly, it can render your
backup store inaccessible. Use at your own risk!`

// newGetCmd fetches a single content blob directly from the store by
// SHA, bypassing the manifest's change-detection pipeline, per
// original_source/backuppy/cli/get.py (sha variant).
func newGetCmd(configPath *string) *cobra.Command {
	var name, sha, action, out string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "fetch a single blob directly from the store by SHA",
		Long:  plumbingWarning,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sha == "" {
				return fmt.Errorf("must specify --sha")
			}
			ctx := cmd.Context()

			set, err := loadSet(ctx, *configPath, name)
			if err != nil {
				return err
			}

			u, err := set.Lifecycle.Unlock(ctx, true)
			if err != nil {
				return err
			}
			defer u.Close(ctx)

			entries, err := u.Manifest.GetEntriesBySha(sha)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("sha %s does not match anything in the store", sha)
			}
			// Every entry sharing a sha shares a key pair (manifest dedup
			// invariant), so the first entry's key pair is fine.
			keyPair, tag, err := backupcrypto.SplitAuthenticatedKeyPair(manifest.KeyPairOf(entries[0].State))
			if err != nil {
				return err
			}

			cipher := ioiter.New("")
			if err := cipher.Open(); err != nil {
				return err
			}
			defer cipher.Close()
			w, err := cipher.Writer()
			if err != nil {
				return err
			}
			if err := u.Engine.Backend.Load(ctx, util.ShaToPath(sha), &writerAdapterCLI{w}); err != nil {
				return err
			}

			outPath := out
			if outPath == "" {
				outPath = sha
			}
			dest := ioiter.New(outPath)
			if err := dest.Open(); err != nil {
				return err
			}
			defer dest.Close()

			switch action {
			case "fetch":
				if _, err := ioiter.Copy(cipher, dest); err != nil {
					return err
				}
			case "decrypt":
				if err := backupcrypto.Open(cipher, dest, keyPair, tag, backupcrypto.Options{UseCompression: false, UseEncryption: true}); err != nil {
					return err
				}
			default:
				if err := backupcrypto.Open(cipher, dest, keyPair, tag, backupcrypto.Options{UseCompression: true, UseEncryption: true}); err != nil {
					return err
				}
			}

			fmt.Printf("wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the backup set to examine")
	cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&sha, "sha", "", "fetch the blob corresponding to this SHA")
	cmd.Flags().StringVar(&action, "action", "unpack", "one of fetch (raw bytes), decrypt (skip decompression), unpack (full envelope open)")
	cmd.Flags().StringVar(&out, "out", "", "output file path (default: the sha)")
	return cmd
}

type writerAdapterCLI struct{ w *ioiter.Writer }

func (a *writerAdapterCLI) Write(p []byte) (int, error) {
	if err := a.w.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
