package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exoscale/cs/pkg/cloudstack"
)

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want cloudstack.Params
	}{
		{
			name: "no arguments",
			args: nil,
			want: cloudstack.Params{},
		},
		{
			name: "single pairs",
			args: []string{"zoneid=z-1", "name=web-1"},
			want: cloudstack.Params{"zoneid": "z-1", "name": "web-1"},
		},
		{
			name: "repeated option builds a list",
			args: []string{"id=a", "id=b", "id=c"},
			want: cloudstack.Params{"id": []string{"a", "b", "c"}},
		},
		{
			name: "empty value is kept",
			args: []string{"name="},
			want: cloudstack.Params{"name": ""},
		},
		{
			name: "quotes around values are stripped",
			args: []string{`displaytext="web frontend"`, "tag='prod'"},
			want: cloudstack.Params{"displaytext": "web frontend", "tag": "prod"},
		},
		{
			name: "value may contain equal signs",
			args: []string{"userdata=a=b"},
			want: cloudstack.Params{"userdata": "a=b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArguments(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing equal sign", func(t *testing.T) {
		_, err := parseArguments([]string{"zoneid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "zoneid")
	})
}
