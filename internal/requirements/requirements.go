// Package requirements is the pre-flight gate run before any key operation.
// It never panics; a failed check is reported so the caller can keep the
// encryption module disabled.
package requirements

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
	"github.com/dmitrijs2005/gophkeys/internal/logging"
)

// KeyGenerator is exercised by CheckExtensions.
type KeyGenerator interface {
	KeyGenerationAvailable() error
}

// Checker is the startup gate in front of every operation that handles key
// material.
type Checker struct {
	cipher string
	crypto KeyGenerator
	log    logging.Logger
}

// New returns a Checker for the configured cipher. crypto may be nil when the
// provider could not be built; Check then fails.
func New(cipher string, crypto KeyGenerator, log logging.Logger) *Checker {
	if log == nil {
		log = logging.Discard()
	}
	return &Checker{cipher: cipher, crypto: crypto, log: log.With("component", "requirements")}
}

// CheckConfiguration reports whether the configured cipher is supported.
func (c *Checker) CheckConfiguration(ctx context.Context) bool {
	if !cryptox.IsSupportedCipher(c.cipher) {
		c.log.Error(ctx, "configured cipher is not supported", "cipher", c.cipher, "supported", cryptox.SupportedCiphers())
		return false
	}
	return true
}

// CheckExtensions reports whether key generation is usable.
func (c *Checker) CheckExtensions(ctx context.Context) bool {
	if c.crypto == nil {
		c.log.Error(ctx, "no crypto provider configured")
		return false
	}
	if err := c.crypto.KeyGenerationAvailable(); err != nil {
		c.log.Error(ctx, "key generation unavailable", "error", err)
		return false
	}
	return true
}

// Check runs both checks and returns common.ErrRequirementsNotMet naming
// the failed ones.
func (c *Checker) Check(ctx context.Context) error {
	var failed []string
	if !c.CheckConfiguration(ctx) {
		failed = append(failed, "configuration")
	}
	if !c.CheckExtensions(ctx) {
		failed = append(failed, "extensions")
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", common.ErrRequirementsNotMet, failed)
	}
	return nil
}
