package logging

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "syncd.log")
	closer := Setup(path)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	log.Printf("sync cycle delivered %d items", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "sync cycle delivered 3 items")
}

func TestSetupWithoutPathIsNoop(t *testing.T) {
	closer := Setup("")
	require.NoError(t, closer.Close())
}
