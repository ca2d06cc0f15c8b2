package requirements

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
)

type fakeGenerator struct{ err error }

func (p fakeGenerator) KeyGenerationAvailable() error { return p.err }

func TestCheckConfiguration(t *testing.T) {
	ctx := context.Background()
	for _, name := range cryptox.SupportedCiphers() {
		assert.True(t, New(name, fakeGenerator{}, nil).CheckConfiguration(ctx), name)
	}
	assert.False(t, New("DES-CBC", fakeGenerator{}, nil).CheckConfiguration(ctx))
	assert.False(t, New("", fakeGenerator{}, nil).CheckConfiguration(ctx))
}

func TestCheckExtensions(t *testing.T) {
	ctx := context.Background()
	assert.True(t, New("AES-256-GCM", fakeGenerator{}, nil).CheckExtensions(ctx))
	assert.False(t, New("AES-256-GCM", fakeGenerator{err: errors.New("no entropy")}, nil).CheckExtensions(ctx))
	assert.False(t, New("AES-256-GCM", nil, nil).CheckExtensions(ctx))
}

func TestCheckExtensions_RealCrypt(t *testing.T) {
	c, err := cryptox.New("CHACHA20-POLY1305")
	assert.NoError(t, err)
	assert.True(t, New(c.CipherName(), c, nil).CheckExtensions(context.Background()))
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, New("AES-256-GCM", fakeGenerator{}, nil).Check(ctx))

	err := New("ROT13", fakeGenerator{err: errors.New("x")}, nil).Check(ctx)
	assert.ErrorIs(t, err, common.ErrRequirementsNotMet)
	assert.ErrorContains(t, err, "configuration extensions")
}
