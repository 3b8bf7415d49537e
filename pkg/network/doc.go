/*
Package network implements NS, libra's network attachment service.

It manages a Linux bridge per named network (vishvananda/netlink), writes a
minimal bridge+host-local CNI conflist so pkg/cni's libcni invocation can
resolve ADD/DEL/CHECK calls against it, and republishes host-mode ports via
iptables DNAT/MASQUERADE/FORWARD rules.

	Service.CreateNetwork  — ensure bridge + conflist exist (idempotent)
	Service.Attach         — CNI ADD + publish ports, returns assigned IP
	Service.Detach         — unpublish ports + CNI DEL (best-effort)
	Service.DeleteNetwork  — remove conflist + bridge

Only ports carrying a HostPort on an Attach call are published.
Host-mode containers (ContainerSpec.NetworkMode == "host") bypass
Attach/Detach entirely and share the host's own interfaces; no iptables
rules are programmed for them.
*/
package network
