package cmd

import (
	"testing"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/require"
)

func TestParseAttachType(t *testing.T) {
	tests := []struct {
		name     string
		expected ebpf.AttachType
		err      bool
	}{
		{name: "egress", expected: ebpf.AttachCGroupInetEgress},
		{name: "INGRESS", expected: ebpf.AttachCGroupInetIngress},
		{name: "sock_create", expected: ebpf.AttachCGroupInetSockCreate},
		{name: "connect6", expected: ebpf.AttachCGroupInet6Connect},
		{name: "xdp", err: true},
		{name: "", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAttachType(tt.name)
			if tt.err {
				require.ErrorContains(t, err, "unknown cgroup attach type")
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}
