package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/campushall/campusbot/campusbot"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := campusbot.Version
	originalCommitSHA := campusbot.CommitSHA
	originalBuildTime := campusbot.BuildTime

	t.Cleanup(
		func() {
			campusbot.Version = originalVersion
			campusbot.CommitSHA = originalCommitSHA
			campusbot.BuildTime = originalBuildTime
		},
	)

	campusbot.Version = "1.0.0"
	campusbot.CommitSHA = "abc123"
	campusbot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		campusbot.Version,
		campusbot.CommitSHA,
		campusbot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
