package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cilium/ebpf"
)

// cgroupAttachTypes are the names accepted by --type.
var cgroupAttachTypes = map[string]ebpf.AttachType{
	"ingress":     ebpf.AttachCGroupInetIngress,
	"egress":      ebpf.AttachCGroupInetEgress,
	"sock_create": ebpf.AttachCGroupInetSockCreate,
	"sock_ops":    ebpf.AttachCGroupSockOps,
	"device":      ebpf.AttachCGroupDevice,
	"bind4":       ebpf.AttachCGroupInet4Bind,
	"bind6":       ebpf.AttachCGroupInet6Bind,
	"connect4":    ebpf.AttachCGroupInet4Connect,
	"connect6":    ebpf.AttachCGroupInet6Connect,
	"sendmsg4":    ebpf.AttachCGroupUDP4Sendmsg,
	"sendmsg6":    ebpf.AttachCGroupUDP6Sendmsg,
	"recvmsg4":    ebpf.AttachCGroupUDP4Recvmsg,
	"recvmsg6":    ebpf.AttachCGroupUDP6Recvmsg,
	"sysctl":      ebpf.AttachCGroupSysctl,
	"getsockopt":  ebpf.AttachCGroupGetsockopt,
	"setsockopt":  ebpf.AttachCGroupSetsockopt,
}

func parseAttachType(name string) (ebpf.AttachType, error) {
	if t, ok := cgroupAttachTypes[strings.ToLower(name)]; ok {
		return t, nil
	}

	names := make([]string, 0, len(cgroupAttachTypes))
	for n := range cgroupAttachTypes {
		names = append(names, n)
	}
	slices.Sort(names)

	return 0, fmt.Errorf("unknown cgroup attach type %q (expected one of %s)", name, strings.Join(names, ", "))
}
