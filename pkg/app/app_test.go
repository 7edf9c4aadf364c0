package app

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laniot/laniot-signer/pkg/ca/catest"
	"github.com/laniot/laniot-signer/pkg/signer"
)

func TestInitLoadCA(t *testing.T) {
	authority := catest.NewAuthority(t)
	fs := afero.NewMemMapFs()
	require.Nil(t, afero.WriteFile(fs, "/etc/laniot/intermediate.key", authority.KeyPEM, 0600))

	t.Setenv("DEV_INT_CRT", base64.StdEncoding.EncodeToString(authority.CertDER))
	t.Setenv("DEV_INT_KEY", "/etc/laniot/intermediate.key")

	app, err := NewApp().Init(&InitParams{
		ConfigDir: t.TempDir(),
		LogDir:    "/var/log/laniot-signer",
		Viper:     viper.New(),
		Fs:        fs,
	})
	require.Nil(t, err)
	require.Nil(t, app.LoadCA())
	assert.Equal(t, authority.CertPEM, app.IntermediateCA.CertPEM())

	result, err := app.Signer.SignLeaf(context.Background(), &signer.SigningRequest{
		DeviceID: "dev-123",
		IP:       "192.168.1.5",
		Days:     app.Config.Signer.DefaultDays,
	})
	require.Nil(t, err)
	assert.NotEmpty(t, result.ChainPEM)

	// Logs land in the configured directory
	exists, err := afero.Exists(fs, "/var/log/laniot-signer/laniot-signer.log")
	assert.Nil(t, err)
	assert.True(t, exists)

	// Signing metrics are exposed through the app registry
	families, err := app.Registry.Gather()
	require.Nil(t, err)
	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["signer_leaf_signings_total"])
}

func TestLoadCAMissingMaterial(t *testing.T) {
	app, err := NewApp().Init(&InitParams{
		ConfigDir: t.TempDir(),
		Viper:     viper.New(),
		Fs:        afero.NewMemMapFs(),
	})
	require.Nil(t, err)
	assert.ErrorIs(t, app.LoadCA(), signer.ErrIntermediateCA)
	assert.Nil(t, app.Signer)
}

func TestLoadCAMalformed(t *testing.T) {
	authority := catest.NewAuthority(t)
	t.Setenv("DEV_INT_CRT", "not a certificate")
	t.Setenv("DEV_INT_KEY", string(authority.KeyPEM))

	app, err := NewApp().Init(&InitParams{
		ConfigDir: t.TempDir(),
		Viper:     viper.New(),
		Fs:        afero.NewMemMapFs(),
	})
	require.Nil(t, err)
	assert.ErrorIs(t, app.LoadCA(), signer.ErrNormalization)
}
