// Package cookiekey generates session blob key pairs.
package cookiekey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
)

// Config holds configuration for session key generation.
type Config struct {
	Bytes int
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes per key (default: 32)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates a hash and block key pair and writes them to out in
// environment file form.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	hashKey := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, hashKey); err != nil {
		return fmt.Errorf("generate hash key: %w", err)
	}
	blockKey := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, blockKey); err != nil {
		return fmt.Errorf("generate block key: %w", err)
	}

	if _, err := fmt.Fprintf(out, "KEYFOLD_SESSION_HASH_KEY=%s\n", hex.EncodeToString(hashKey)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "KEYFOLD_SESSION_BLOCK_KEY=%s\n", hex.EncodeToString(blockKey))
	return err
}
