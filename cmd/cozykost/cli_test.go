package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/client"
)

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "Rp 0", formatPrice(0))
	assert.Equal(t, "Rp 950", formatPrice(950))
	assert.Equal(t, "Rp 1.500.000", formatPrice(1500000))
	assert.Equal(t, "Rp 12.000", formatPrice(12000))
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	session, err := loadSession(path)
	require.NoError(t, err)
	assert.Equal(t, client.Session{}, session)

	want := client.Session{UserID: "user-1", Token: "token-1"}
	require.NoError(t, saveSession(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := loadSession(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, saveSession(path, client.Session{}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, saveSession(path, client.Session{}))
}

func TestPatchFromFlags(t *testing.T) {
	flags := pflag.NewFlagSet("edit", pflag.ContinueOnError)
	for _, field := range profileFields {
		flags.String(field.flag, "", field.usage)
	}
	require.NoError(t, flags.Parse([]string{"--city", "Bandung", "--phone", ""}))

	patch := patchFromFlags(flags)
	require.NotNil(t, patch.City)
	assert.Equal(t, "Bandung", *patch.City)
	require.NotNil(t, patch.Phone)
	assert.Equal(t, "", *patch.Phone)
	assert.Nil(t, patch.Name)
	assert.Nil(t, patch.Settings)
}

func TestPrintItemsOrdersByTimestamp(t *testing.T) {
	var buf bytes.Buffer
	err := printItems(&buf, cozykost.Items{
		"b": {ID: "b", Name: "Kost Mawar", Price: 900000, Timestamp: 2},
		"a": {ID: "a", Name: "Kost Melati", Price: 1500000, Timestamp: 1},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Kost Melati")), bytes.Index(buf.Bytes(), []byte("Kost Mawar")))
	assert.Contains(t, out, "Rp 1.500.000")

	buf.Reset()
	require.NoError(t, printItems(&buf, cozykost.Items{}))
	assert.Equal(t, "(empty)\n", buf.String())
}

func TestCollectionCommandsRegistered(t *testing.T) {
	for _, name := range []string{"favorites", "saved"} {
		cmd, _, err := rootCmd.Find([]string{name, "toggle"})
		require.NoError(t, err)
		assert.Equal(t, "toggle <kost-id>", cmd.Use)
	}
}
