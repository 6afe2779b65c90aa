package ftpd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(t *testing.T) Manifest {
	t.Helper()
	roRoot := t.TempDir()
	rwRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(roRoot, "input.txt"), []byte("in"), 0o644))

	return Manifest{
		PublicHost: "localhost",
		Accounts: []Account{
			{User: "user_ro", Secret: "ro-secret", Root: roRoot, ReadOnly: true},
			{User: "user_rw", Secret: "rw-secret", Root: rwRoot},
		},
	}
}

func TestAuthUser(t *testing.T) {
	d := newDriver(testManifest(t), nil)

	tests := []struct {
		name    string
		user    string
		pass    string
		wantErr bool
	}{
		{name: "read-only identity", user: "user_ro", pass: "ro-secret"},
		{name: "read-write identity", user: "user_rw", pass: "rw-secret"},
		{name: "wrong secret", user: "user_ro", pass: "rw-secret", wantErr: true},
		{name: "unknown user", user: "anonymous", pass: "", wantErr: true},
		{name: "empty secret", user: "user_rw", pass: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := d.AuthUser(nil, tt.user, tt.pass)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, fs)
		})
	}
}

func TestReadOnlyIdentityCannotWrite(t *testing.T) {
	d := newDriver(testManifest(t), nil)

	fs, err := d.AuthUser(nil, "user_ro", "ro-secret")
	require.NoError(t, err)

	// Reads work.
	data, err := afero.ReadFile(fs, "/input.txt")
	require.NoError(t, err)
	assert.Equal(t, "in", string(data))

	// Writes, renames, and deletes do not.
	_, err = fs.Create("/new.txt")
	assert.Error(t, err)
	assert.Error(t, fs.Rename("/input.txt", "/moved.txt"))
	assert.Error(t, fs.Remove("/input.txt"))
	assert.Error(t, fs.Mkdir("/subdir", 0o755))
}

func TestWritableIdentityHasFullAccess(t *testing.T) {
	d := newDriver(testManifest(t), nil)

	fs, err := d.AuthUser(nil, "user_rw", "rw-secret")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/out.txt", []byte("out"), 0o644))
	require.NoError(t, fs.Mkdir("/results", 0o755))
	require.NoError(t, fs.Rename("/out.txt", "/results/out.txt"))
	require.NoError(t, fs.Remove("/results/out.txt"))
}

func TestIdentityIsJailedToItsRoot(t *testing.T) {
	m := testManifest(t)
	d := newDriver(m, nil)

	fs, err := d.AuthUser(nil, "user_ro", "ro-secret")
	require.NoError(t, err)

	// The account filesystem is rooted: absolute paths resolve below the
	// account root, not the host root.
	_, err = fs.Stat("/etc/passwd")
	assert.Error(t, err)
}

func TestGetSettingsUsesInheritedListener(t *testing.T) {
	d := newDriver(testManifest(t), nil)
	settings, err := d.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, "localhost", settings.PublicHost)
}

func TestMachineListingCommandsAreDisabled(t *testing.T) {
	d := newDriver(testManifest(t), nil)
	settings, err := d.GetSettings()
	require.NoError(t, err)

	// Backend clients mis-handle MLST/MLSD on file inputs; both commands
	// must stay off the command set.
	assert.True(t, settings.DisableMLSD)
	assert.True(t, settings.DisableMLST)
}

func TestManifestRoundTrip(t *testing.T) {
	m := testManifest(t)

	data := `{"public_host":"localhost","accounts":[` +
		`{"user":"user_ro","secret":"ro-secret","root":"` + m.Accounts[0].Root + `","read_only":true}]}`
	got, err := ReadManifest(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "localhost", got.PublicHost)
	require.Len(t, got.Accounts, 1)
	assert.True(t, got.Accounts[0].ReadOnly)
	assert.Equal(t, "user_ro", got.Accounts[0].User)
}

func TestReadManifestRejectsEmpty(t *testing.T) {
	_, err := ReadManifest(strings.NewReader(`{"public_host":"localhost"}`))
	assert.Error(t, err)
}
