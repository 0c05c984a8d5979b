package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/discoproj/disco/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disco.conf")
	content := "DISCO_ID=1\nDISCO_ADDR=127.0.0.1:5051\nDISCO_DATA_DIR=/var/lib/disco\n" +
		"DISCO_CA_CERT=/etc/disco/ca.pem\nDISCO_SERVER_CERT=/etc/disco/server.pem\nDISCO_SERVER_KEY=/etc/disco/server.key\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	n, err := Load(path, Node{})
	require.NoError(t, err)
	require.Equal(t, types.NodeID(1), n.ID)
	require.Equal(t, types.RpcAddr("127.0.0.1:5051"), n.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disco.conf")
	require.NoError(t, os.WriteFile(path, []byte("DISCO_ADDR=127.0.0.1:5051\n"), 0o600))

	t.Setenv("DISCO_ADDR", "127.0.0.1:9999")
	t.Setenv("DISCO_ID", "2")
	t.Setenv("DISCO_DATA_DIR", "/data")
	t.Setenv("DISCO_CA_CERT", "/ca.pem")
	t.Setenv("DISCO_SERVER_CERT", "/cert.pem")
	t.Setenv("DISCO_SERVER_KEY", "/key.pem")

	n, err := Load(path, Node{})
	require.NoError(t, err)
	require.Equal(t, types.RpcAddr("127.0.0.1:9999"), n.Addr)
}

func TestFlagOverridesEverything(t *testing.T) {
	n, err := Load("", Node{
		ID: 3, Addr: "127.0.0.1:1", DataDir: "/d", CACert: "/ca", ServerCert: "/c", ServerKey: "/k",
	})
	require.NoError(t, err)
	require.Equal(t, types.NodeID(3), n.ID)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	_, err := Load("", Node{})
	require.Error(t, err)
}
