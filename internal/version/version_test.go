package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	release, commit := Release, GitCommit
	t.Cleanup(func() { Release, GitCommit = release, commit })

	Release, GitCommit = "v1.2.0", "abc123"

	assert.Equal(t, "1.2.0", Short())
	assert.Equal(t, "v1.2.0 (commit: abc123)", Full())
	assert.Equal(t, "v1.2.0 (commit: abc123, "+runtime.GOOS+"/"+runtime.GOARCH+")", FullWithPlatform())
	assert.Equal(t, "gasless-relay/1.2.0", UserAgent())
}
