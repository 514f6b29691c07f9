package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCommitMessageQuoted(t *testing.T) {
	assert.Equal(t, "fix login redirect",
		ExtractCommitMessage(`git commit -m "fix login redirect"`))
	assert.Equal(t, "fix login redirect",
		ExtractCommitMessage(`git commit -am 'fix login redirect'`))
	assert.Equal(t, "add \\\"quotes\\\" handling",
		ExtractCommitMessage(`git commit -m "add \"quotes\" handling"`))
	assert.Equal(t, "first change",
		ExtractCommitMessage(`git add . && git commit -m "first change" && git push`))
}

func TestExtractCommitMessageHeredoc(t *testing.T) {
	cmd := "git commit -m \"$(cat <<'EOF'\nAdd retry logic to uploader\n\nCo-Authored-By: Somebody <s@example.com>\nEOF\n)\""
	assert.Equal(t, "Add retry logic to uploader", ExtractCommitMessage(cmd))

	plain := "git commit -F- <<EOF\nRefactor config loader\nEOF"
	assert.Equal(t, "Refactor config loader", ExtractCommitMessage(plain))
}

func TestExtractCommitMessageSkipsTrailers(t *testing.T) {
	cmd := "git commit <<EOF\n\nCo-Authored-By: Somebody <s@example.com>\nSigned-off-by: Other <o@example.com>\nActual subject line\nEOF"
	assert.Equal(t, "Actual subject line", ExtractCommitMessage(cmd))
}

func TestExtractCommitMessageNonCommit(t *testing.T) {
	assert.Empty(t, ExtractCommitMessage(""))
	assert.Empty(t, ExtractCommitMessage("git status"))
	assert.Empty(t, ExtractCommitMessage(`echo "git log" -m "nope"`))
}

func TestBuildSummaryPrecedence(t *testing.T) {
	commits := []string{"fix auth", "add tests"}
	files := []string{"/a/auth.go"}

	assert.Equal(t, "Agent summary wins", buildSummary("Agent summary wins", commits, files))
	assert.Equal(t, "fix auth; add tests", buildSummary("", commits, files))
	assert.Equal(t, "Worked on auth.go", buildSummary("", nil, files))
	assert.Equal(t, "Session activity (no files changed)", buildSummary("", nil, nil))
}

func TestSummarizeFiles(t *testing.T) {
	assert.Equal(t, "Worked on a.go", summarizeFiles([]string{"/x/a.go"}))
	assert.Equal(t, "Worked on a.go and b.go", summarizeFiles([]string{"/x/b.go", "/x/a.go"}))
	assert.Equal(t, "Worked on a.go, b.go and 2 more files",
		summarizeFiles([]string{"/x/d.go", "/x/c.go", "/x/b.go", "/x/a.go"}))
}
