package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "absent", args: []string{"run"}},
		{name: "separate value", args: []string{"--env", "ci.env", "run"}, want: "ci.env"},
		{name: "equals value", args: []string{"run", "--env=ci.env"}, want: "ci.env"},
		{name: "after separator", args: []string{"run", "--", "--env", "tool.env"}},
		{name: "missing value", args: []string{"run", "--env"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseEnvFlag(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
