package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/bmde-go/internal/provenance"
)

const testKey = "0123456789abcdef0123456789abcdef"

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChecksumCmd(t *testing.T) {
	dir := t.TempDir()
	upper := writeFile(t, dir, "upper.txt", "ACGT")

	out, err := runCLI(t, "acgt", "checksum", upper, "-")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	sum := provenance.Checksum("acgt")
	assert.True(t, strings.HasPrefix(lines[0], sum))
	assert.True(t, strings.HasPrefix(lines[1], sum))
}

func TestDiffApplyCmd(t *testing.T) {
	dir := t.TempDir()
	before := writeFile(t, dir, "before", "ATGCATGC")
	after := writeFile(t, dir, "after", "ATGCTTTTATGC")

	patch, err := runCLI(t, "", "diff", before, after)
	require.NoError(t, err)
	require.NotEmpty(t, patch)
	patchFile := writeFile(t, dir, "patch", patch)

	restored, err := runCLI(t, "", "apply", patchFile, after)
	require.NoError(t, err)
	assert.Equal(t, "ATGCATGC", restored)

	_, err = runCLI(t, "", "apply", patchFile, before)
	assert.ErrorIs(t, err, provenance.ErrPatch)
}

func TestLibraryExportVerifyImport(t *testing.T) {
	t.Setenv("BMDE_ENCRYPTION_KEY", testKey)
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.db")
	exported := filepath.Join(dir, "exported")

	v1 := writeFile(t, dir, "v1.gb", "atgcatgc")
	v2 := writeFile(t, dir, "v2.gb", "atgcatgcttaa")

	out, err := runCLI(t, "", "--library", lib, "create", "plasmid", "--design", v1, "--author", "alice", "--details", "source: scratch")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "plasmid "))

	out, err = runCLI(t, "", "--library", lib, "edit", "plasmid", "--design", v2, "--op", "INSERT", "--details", `{"index": 8, "bases": "ttaa"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "revision 2")

	out, err = runCLI(t, "", "--library", lib, "export", "plasmid", "--out", exported)
	require.NoError(t, err)
	assert.Equal(t, "plasmid.gb\nmetadata_plasmid.bmde\n", out)

	out, err = runCLI(t, "", "verify", "--dir", exported, "plasmid.gb")
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "3 revisions")

	out, err = runCLI(t, "", "--library", lib, "show", "plasmid", "--revisions")
	require.NoError(t, err)
	assert.Contains(t, out, `"revision": 1`)
	assert.Contains(t, out, `"design": "atgcatgc"`)

	other := filepath.Join(dir, "other.db")
	out, err = runCLI(t, "", "--library", other, "import", "copy",
		"--design", filepath.Join(exported, "plasmid.gb"),
		"--metadata", filepath.Join(exported, "metadata_plasmid.bmde"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "copy "))

	out, err = runCLI(t, "", "--library", other, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "copy")

	// Tamper with the exported design.
	writeFile(t, exported, "plasmid.gb", "atgcatgcttat")
	out, err = runCLI(t, "", "verify", "--dir", exported, "plasmid.gb=metadata_plasmid.bmde")
	require.Error(t, err)
	assert.Contains(t, out, "REJECT")
	assert.Contains(t, out, "mismatch")
}

func TestDeriveCmd(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.db")
	parent := writeFile(t, dir, "p.gb", "atgcatgcttaa")
	child := writeFile(t, dir, "c.gb", "atgc")

	_, err := runCLI(t, "", "--library", lib, "create", "parent", "--design", parent)
	require.NoError(t, err)
	out, err := runCLI(t, "", "--library", lib, "derive", "child", "--from", "parent", "--design", child)
	require.NoError(t, err)
	assert.Contains(t, out, "parent=")

	out, err = runCLI(t, "", "--library", lib, "show", "child")
	require.NoError(t, err)
	assert.Contains(t, out, `"operationCode": "SPLIT"`)
}

func TestExportCmd_MissingKey(t *testing.T) {
	t.Setenv("BMDE_ENCRYPTION_KEY", "")
	t.Setenv("ENCRYPTION_KEY", "")
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.db")
	design := writeFile(t, dir, "d.gb", "acgt")

	_, err := runCLI(t, "", "--library", lib, "create", "d", "--design", design)
	require.NoError(t, err)
	_, err = runCLI(t, "", "--library", lib, "export", "d", "--out", filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, provenance.ErrConfiguration)
}

func TestEditCmd_RequiresOp(t *testing.T) {
	_, err := runCLI(t, "", "--library", filepath.Join(t.TempDir(), "lib.db"), "edit", "x")
	assert.Error(t, err)
}

func TestParseDetails(t *testing.T) {
	d, err := parseDetails("codon_table: 11\norganism: e_coli")
	require.NoError(t, err)
	assert.Equal(t, 11, d["codon_table"])
	assert.Equal(t, "e_coli", d["organism"])

	d, err = parseDetails("")
	require.NoError(t, err)
	assert.Empty(t, d)

	_, err = parseDetails("[unterminated")
	assert.Error(t, err)
}

func TestParsePair(t *testing.T) {
	req := parsePair("orders/plasmid.gb")
	assert.Equal(t, "orders/plasmid.gb", req.DesignPath)
	assert.Equal(t, "orders/metadata_plasmid.bmde", req.MetadataPath)

	req = parsePair("d.gb=side.txt")
	assert.Equal(t, "d.gb", req.DesignPath)
	assert.Equal(t, "side.txt", req.MetadataPath)
}
