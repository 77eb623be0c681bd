package main

import (
	"fmt"
	"strings"

	"github.com/soypat/tinystack/dhcpv4"
	"github.com/soypat/tinystack/internet"
	"github.com/soypat/tinystack/ssh"
)

// daemonVersion is reported by the "version" shell command and the SFTP
// /version.txt diagnostic file.
const daemonVersion = "netstackd/0.1"

const shellPrompt = "netstackd> "

// adminShell is the illustrative line-editor shell spec.md's §1 table
// calls for: it buffers CHANNEL_DATA bytes until a newline, then
// dispatches a tiny fixed command set against the running Stack. It is
// intentionally minimal -- the shell grammar itself is named as an
// external-collaborator boundary, not part of the protocol core.
type adminShell struct {
	w     ssh.ChannelWriter
	stack *internet.Stack
	dhcp  *dhcpv4.StackClient
	coll  *Collector
	line  []byte
}

// newShellFactory returns an [ssh.ShellFactory] bound to the running
// stack, DHCP client, and metrics collector so "shell"/"exec" channel
// requests can report live status.
func newShellFactory(stack *internet.Stack, dhcp *dhcpv4.StackClient, coll *Collector) ssh.ShellFactory {
	return func(w ssh.ChannelWriter, command string) (ssh.Session, error) {
		sh := &adminShell{w: w, stack: stack, dhcp: dhcp, coll: coll}
		if command != "" {
			// "exec" request: run the one command and let the channel
			// close naturally once the caller is done writing output.
			sh.dispatch(command)
			return sh, nil
		}
		fmt.Fprint(w, shellPrompt)
		return sh, nil
	}
}

// OnData implements [ssh.Session], splitting incoming bytes on '\n' and
// dispatching one command per complete line.
func (sh *adminShell) OnData(data []byte) error {
	sh.line = append(sh.line, data...)
	for {
		i := indexByte(sh.line, '\n')
		if i < 0 {
			return nil
		}
		line := strings.TrimRight(string(sh.line[:i]), "\r")
		sh.line = sh.line[i+1:]
		sh.dispatch(line)
		fmt.Fprint(sh.w, shellPrompt)
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Close implements [ssh.Session]. The shell holds no resources of its own.
func (sh *adminShell) Close() {}

func (sh *adminShell) dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "help":
		fmt.Fprint(sh.w, "commands: help, status, dhcp, version\r\n")
	case "version":
		fmt.Fprintf(sh.w, "%s\r\n", daemonVersion)
	case "status":
		addr := sh.stack.Addr()
		fmt.Fprintf(sh.w, "addr=%s\r\n", addr)
	case "dhcp":
		if sh.dhcp == nil {
			fmt.Fprint(sh.w, "dhcp disabled\r\n")
			break
		}
		fmt.Fprintf(sh.w, "state=%s\r\n", sh.dhcp.State())
	default:
		fmt.Fprintf(sh.w, "unknown command %q\r\n", fields[0])
	}
}
