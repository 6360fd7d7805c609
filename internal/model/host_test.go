package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHost(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		token   string
		want    Host
		wantErr bool
	}{
		{name: "bare address", token: "10.0.0.1", want: Host{Address: "10.0.0.1"}},
		{name: "hostname with spaces", token: "  node-a  ", want: Host{Address: "node-a"}},
		{name: "embedded port", token: "10.0.0.1:2222", want: Host{Address: "10.0.0.1", Port: 2222}},
		{name: "bracketed ipv6 with port", token: "[fe80::1]:2222", want: Host{Address: "fe80::1", Port: 2222}},
		{name: "bare ipv6", token: "fe80::1", want: Host{Address: "fe80::1"}},
		{name: "empty", token: " ", wantErr: true},
		{name: "bad port", token: "node:http", wantErr: true},
		{name: "port out of range", token: "node:70000", wantErr: true},
		{name: "missing address", token: ":2222", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseHost(tc.token)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHost_StringRoundTrip(t *testing.T) {
	t.Parallel()

	hosts, err := ParseHostList("a:2222,b,c:2223")
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	assert.Equal(t, "a:2222,b,c:2223", JoinHosts(hosts))
}

func TestParseHostList_Empty(t *testing.T) {
	t.Parallel()

	hosts, err := ParseHostList("")
	require.NoError(t, err)
	assert.Empty(t, hosts)

	_, err = ParseHostList("a,,b")
	require.Error(t, err, "an empty element is malformed")
}

func TestCheckUniqueHosts(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckUniqueHosts([]Host{{Address: "a"}, {Address: "b"}}))

	// Equality is by address; a different embedded port is still the same host.
	err := CheckUniqueHosts([]Host{{Address: "a", Port: 1}, {Address: "b"}, {Address: "a", Port: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a"`)
}
