// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hooks

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/upbrr/internal/models"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{name: "simple", command: "notify {tracker} {url}", want: []string{"notify", "{tracker}", "{url}"}},
		{name: "quoted", command: `curl -d "name={name}" 'http://hook/x y'`, want: []string{"curl", "-d", "name={name}", "http://hook/x y"}},
		{name: "empty", command: "  ", wantErr: true},
		{name: "unterminated quote", command: `notify "oops`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.command)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.args)
		})
	}
}

func TestExpandKeepsSpacesInOneArgument(t *testing.T) {
	r, err := New("notify --name {name} --link={url} {tracker}")
	require.NoError(t, err)

	got := r.expand(models.Upload{Name: "Some Movie 2019", URL: "https://t/1", Tracker: "PTP"})
	assert.Equal(t, []string{"notify", "--name", "Some Movie 2019", "--link=https://t/1", "PTP"}, got)
}

func TestAfterUploadRunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	out := filepath.Join(t.TempDir(), "hook.out")

	r, err := New(`sh -c 'printf "%s %s" "$1" "$2" > "$3"' hook {tracker} {url} ` + out)
	require.NoError(t, err)
	require.NoError(t, r.AfterUpload(context.Background(), models.Upload{Tracker: "NBL", URL: "https://nbl/t/5"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "NBL https://nbl/t/5", string(data))

	failing, err := New("sh -c 'exit 3'")
	require.NoError(t, err)
	assert.Error(t, failing.AfterUpload(context.Background(), models.Upload{}))
}
