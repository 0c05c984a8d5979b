package main

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("DISCO_TEST_ADDR", "10.0.0.1:5051")
	require.Equal(t, "10.0.0.1:5051", envOr("DISCO_TEST_ADDR", "default"))

	require.NoError(t, os.Unsetenv("DISCO_TEST_ADDR"))
	require.Equal(t, "default", envOr("DISCO_TEST_ADDR", "default"))
}

func TestDialRequiresAddr(t *testing.T) {
	flags := pflag.NewFlagSet("disco", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("ca-cert", "", "")
	flags.String("client-cert", "", "")
	flags.String("client-key", "", "")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(flags)

	_, err := dial(context.Background(), cmd)
	require.Error(t, err)
}
