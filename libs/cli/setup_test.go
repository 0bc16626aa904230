package cli

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitErr struct{ code int }

func (e exitErr) Error() string { return "exit" }
func (e exitErr) ExitCode() int { return e.code }

func TestPrepareBaseCmdLoadsConfigFile(t *testing.T) {
	defer viper.Reset()

	home, err := ioutil.TempDir("", "cli-test")
	require.NoError(t, err)
	defer os.RemoveAll(home)

	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0700))
	require.NoError(t, ioutil.WriteFile(filepath.Join(home, "config", "config.toml"),
		[]byte("chain_id = \"from-file\"\n[mempool]\nsize = 7\n"), 0600))

	var chainID string
	var size int
	root := &cobra.Command{
		Use: "root",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID = viper.GetString("chain_id")
			size = viper.GetInt("mempool.size")
			return nil
		},
	}
	exec := PrepareBaseCmd(root, "DA", "/nonexistent")
	root.SetArgs([]string{"--home", home})
	require.NoError(t, exec.Execute())

	assert.Equal(t, "from-file", chainID)
	assert.Equal(t, 7, size)
	assert.Equal(t, home, viper.GetString(HomeFlag))
}

func TestExecutorExitCode(t *testing.T) {
	defer viper.Reset()

	root := &cobra.Command{
		Use:  "root",
		RunE: func(cmd *cobra.Command, args []string) error { return exitErr{3} },
	}
	var code int
	exec := PrepareBaseCmd(root, "DA", "/nonexistent")
	exec.Exit = func(c int) { code = c }
	root.SetArgs([]string{})

	err := exec.Execute()
	require.Error(t, err)
	assert.Equal(t, 3, code)

	var ec ExitCoder
	assert.True(t, errors.As(err, &ec))
}

func TestConcatCobraCmdFuncs(t *testing.T) {
	var calls []int
	boom := errors.New("boom")
	f := concatCobraCmdFuncs(
		func(*cobra.Command, []string) error { calls = append(calls, 1); return nil },
		nil,
		func(*cobra.Command, []string) error { calls = append(calls, 2); return boom },
		func(*cobra.Command, []string) error { calls = append(calls, 3); return nil },
	)
	require.ErrorIs(t, f(nil, nil), boom)
	assert.Equal(t, []int{1, 2}, calls)
}
