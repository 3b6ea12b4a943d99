//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ExampleSuite struct {
	suite.Suite
	repoRoot string
}

func (s *ExampleSuite) SetupSuite() {
	if os.Getenv("MPI_TEST_EXAMPLES") == "" {
		s.T().Skip("set MPI_TEST_EXAMPLES=1 to run example integration tests")
	}
	root, err := detectRepoRoot()
	require.NoError(s.T(), err, "locate repository root")
	s.repoRoot = root
}

func (s *ExampleSuite) TestRingBasic() {
	s.runExample("examples/ring_basic")
}

func (s *ExampleSuite) TestKeyvalBasic() {
	s.runExample("examples/keyval_basic")
}

func (s *ExampleSuite) TestRMABasic() {
	s.runExample("examples/rma_basic")
}

// runExample runs the example with go run on the loopback runtime. When
// MPI_TEST_LAUNCHER is set (for example "mpirun -n 2") the example is built
// with the mpi tag and started through the launcher instead.
func (s *ExampleSuite) runExample(relPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if launcher := strings.Fields(os.Getenv("MPI_TEST_LAUNCHER")); len(launcher) > 0 {
		bin := filepath.Join(s.T().TempDir(), filepath.Base(relPath))
		build := exec.CommandContext(ctx, "go", "build", "-tags", "mpi", "-o", bin, "./"+relPath)
		build.Dir = s.repoRoot
		output, err := build.CombinedOutput()
		require.NoErrorf(s.T(), err, "build %s:\n%s", relPath, string(output))
		cmd = exec.CommandContext(ctx, launcher[0], append(launcher[1:], bin)...)
	} else {
		cmd = exec.CommandContext(ctx, "go", "run", "./"+relPath)
	}
	cmd.Env = os.Environ()
	cmd.Dir = s.repoRoot

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		s.FailNowf("example timeout", "example %s timed out:\n%s", relPath, string(output))
	}
	require.NoErrorf(s.T(), err, "example %s failed:\n%s", relPath, string(output))
}

func detectRepoRoot() (string, error) {
	root, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root, nil
		}
		next := filepath.Dir(root)
		if next == root {
			return "", fmt.Errorf("could not locate repository root containing go.mod")
		}
		root = next
	}
}

func TestExamples(t *testing.T) {
	suite.Run(t, new(ExampleSuite))
}
