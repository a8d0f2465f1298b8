package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentrt/agentrt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(allowed, denied []string) types.Policy {
	return types.Policy{
		Filesystem: types.FilesystemPolicy{
			AllowedPrefixes: allowed,
			DeniedPrefixes:  denied,
		},
		Shell: types.ShellPolicy{
			Mode:            types.ShellAllowlist,
			AllowedCommands: []string{"ls", "cat", "grep", "git"},
			DeniedCommands:  []string{"rm"},
			SplitChained:    true,
		},
	}
}

func TestValidatePath_DeniedWinsOverAllowed(t *testing.T) {
	p := testPolicy([]string{"/home/u/work"}, []string{"/home/u/.ssh"})
	e := New(p)

	_, err := e.ValidatePath("/home/u/.ssh/id_rsa")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
	assert.Contains(t, err.Error(), "explicitly denied")
}

func TestValidatePath_AllowedPrefix(t *testing.T) {
	p := testPolicy([]string{"/home/u/work"}, nil)
	e := New(p)

	resolved, err := e.ValidatePath("/home/u/work/project/main.go")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/work/project/main.go", resolved)
}

func TestValidatePath_NotUnderAnyAllowedPrefix(t *testing.T) {
	p := testPolicy([]string{"/home/u/work"}, nil)
	e := New(p)

	_, err := e.ValidatePath("/etc/passwd")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestValidatePath_PrefixMatchesFullComponentsOnly(t *testing.T) {
	p := testPolicy([]string{"/home/u/work"}, nil)
	e := New(p)

	_, err := e.ValidatePath("/home/u/workshop/file.txt")
	require.Error(t, err)
}

func TestValidatePath_SymlinkDereferenceDenied(t *testing.T) {
	tmp := t.TempDir()
	denied := filepath.Join(tmp, "denied")
	allowed := filepath.Join(tmp, "allowed")
	require.NoError(t, os.MkdirAll(denied, 0755))
	require.NoError(t, os.MkdirAll(allowed, 0755))

	target := filepath.Join(denied, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	link := filepath.Join(allowed, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	p := testPolicy([]string{allowed}, []string{denied})
	e := New(p)

	_, err := e.ValidatePath(link)
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestValidateCommand_DenyAll(t *testing.T) {
	p := testPolicy(nil, nil)
	p.Shell.Mode = types.ShellDenyAll
	e := New(p)

	err := e.ValidateCommand("ls -la")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestValidateCommand_AllowlistSplitChained(t *testing.T) {
	p := testPolicy(nil, nil)
	e := New(p)

	require.NoError(t, e.ValidateCommand("ls -la && cat file.txt"))

	err := e.ValidateCommand("ls -la; rm -rf /")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rm")
}

func TestValidateCommand_AllowlistUnknownCommandDenied(t *testing.T) {
	p := testPolicy(nil, nil)
	e := New(p)

	err := e.ValidateCommand("curl http://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the allowlist")
}

func TestValidateCommand_Denylist(t *testing.T) {
	p := testPolicy(nil, nil)
	p.Shell.Mode = types.ShellDenylist
	p.Shell.DeniedCommands = []string{"rm", "dd"}
	e := New(p)

	require.NoError(t, e.ValidateCommand("curl http://example.com"))

	err := e.ValidateCommand("rm -rf /tmp/x")
	require.Error(t, err)
}

func TestToolAuthorizer_UnknownToolDefaultsAllow(t *testing.T) {
	e := New(testPolicy(nil, nil))
	auth := e.NewToolAuthorizer()

	result := auth.Authorize("weather_lookup", map[string]any{"city": "nyc"})
	assert.True(t, result.Allowed)
}

func TestToolAuthorizer_BashDeniedCommand(t *testing.T) {
	e := New(testPolicy(nil, nil))
	auth := e.NewToolAuthorizer()

	result := auth.Authorize("bash", map[string]any{"command": "rm -rf /"})
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "rm")
}

func TestToolAuthorizer_ReadRewritesPath(t *testing.T) {
	p := testPolicy([]string{"/home/u/work"}, nil)
	e := New(p)
	auth := e.NewToolAuthorizer()

	result := auth.Authorize("read", map[string]any{"path": "/home/u/work/../work/file.txt"})
	require.True(t, result.Allowed)
	assert.Equal(t, "/home/u/work/file.txt", result.Arguments["path"])
}

func TestToolAuthorizer_CamelCaseFilePathIsValidated(t *testing.T) {
	p := testPolicy([]string{"/home/u/work"}, []string{"/home/u/.ssh"})
	e := New(p)
	auth := e.NewToolAuthorizer()

	denied := auth.Authorize("read", map[string]any{"filePath": "/home/u/.ssh/id_rsa"})
	require.False(t, denied.Allowed)
	assert.Contains(t, denied.Reason, "explicitly denied")

	allowed := auth.Authorize("write", map[string]any{"filePath": "/home/u/work/out.txt", "content": "x"})
	require.True(t, allowed.Allowed)
	assert.Equal(t, "/home/u/work/out.txt", allowed.Arguments["filePath"])
}
