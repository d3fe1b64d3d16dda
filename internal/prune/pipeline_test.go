package prune

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidtreonou/panamax/internal/command"
)

// fakeDocker answers the listings the prune pipelines read and logs every
// invocation, one argv per line, to $DOCKER_LOG.
const fakeDocker = `#!/bin/sh
echo "$*" >> "$DOCKER_LOG"
case "$1 $2" in
"ps -q")
	printf 'c8\nc7\nc6\nc5\nc4\nc3\nc2\nc1\n'
	;;
"image ls")
	printf 'i1 registry.example.com/dhh/app:latest\n'
	printf 'i2 registry.example.com/dhh/app:v1\n'
	printf 'i3 registry.example.com/dhh/app:v2\n'
	printf 'i4 registry.example.com/dhh/app:<none>\n'
	printf 'i5 registry.example.com/dhh/app:v3\n'
	;;
"container ls")
	printf '%s\n' 'registry.example.com/dhh/app:v2\|'
	;;
esac
`

// runOnFakeHost runs cmd through sh with the fake docker first on PATH and
// returns the logged docker invocations that start with verb.
func runOnFakeHost(t *testing.T, cmd command.Command, verb string) []string {
	t.Helper()
	for _, tool := range []string{"sh", "grep", "tail", "tr"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker"), []byte(fakeDocker), 0o755))
	logPath := filepath.Join(dir, "docker.log")

	sh := exec.Command("sh", "-c", cmd.String())
	sh.Env = append(os.Environ(),
		"PATH="+dir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"DOCKER_LOG="+logPath,
	)
	out, err := sh.CombinedOutput()
	require.NoError(t, err, "pipeline failed: %s", out)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var calls []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, verb+" ") {
			calls = append(calls, line)
		}
	}
	return calls
}

func TestContainers_RemovesOnlyBeyondKeepLast(t *testing.T) {
	removed := runOnFakeHost(t, testPolicy().Containers(5), "rm")

	assert.Equal(t, []string{"rm c3", "rm c2", "rm c1"}, removed)
}

func TestContainers_KeepAllWhenFewer(t *testing.T) {
	removed := runOnFakeHost(t, testPolicy().Containers(10), "rm")

	assert.Empty(t, removed)
}

func TestTaggedImages_SparesInUseLatestAndUntagged(t *testing.T) {
	removed := runOnFakeHost(t, testPolicy().TaggedImages(), "rmi")

	assert.Equal(t, []string{
		"rmi registry.example.com/dhh/app:v1",
		"rmi registry.example.com/dhh/app:v3",
	}, removed)
}

// The dry-run selection must agree with what the pipeline removes.
func TestSelect_MatchesPipeline(t *testing.T) {
	p := testPolicy()

	rm := runOnFakeHost(t, p.Containers(5), "rm")
	ids := []string{"c8", "c7", "c6", "c5", "c4", "c3", "c2", "c1"}
	selectedIDs := SelectContainers(ids, 5)
	require.Len(t, selectedIDs, len(rm))
	for i, id := range selectedIDs {
		assert.Equal(t, "rm "+id, rm[i])
	}

	rmi := runOnFakeHost(t, p.TaggedImages(), "rmi")
	images := ParseImages("i1 registry.example.com/dhh/app:latest\n" +
		"i2 registry.example.com/dhh/app:v1\n" +
		"i3 registry.example.com/dhh/app:v2\n" +
		"i4 registry.example.com/dhh/app:<none>\n" +
		"i5 registry.example.com/dhh/app:v3\n")
	selected := SelectImages(images, p.Protected([]string{"registry.example.com/dhh/app:v2"}))
	require.Len(t, selected, len(rmi))
	for i, img := range selected {
		assert.Equal(t, "rmi "+img.Reference, rmi[i])
	}
}
