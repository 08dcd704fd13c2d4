package main

import (
	"fmt"
	"time"

	"github.com/afdcore/afd/internal/config"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/afdcore/afd/internal/transport"
	"github.com/afdcore/afd/internal/transport/execx"
	"github.com/afdcore/afd/internal/transport/ftp"
	"github.com/afdcore/afd/internal/transport/httpx"
	"github.com/afdcore/afd/internal/transport/local"
	"github.com/afdcore/afd/internal/transport/sftp"
	"github.com/afdcore/afd/internal/transport/smtpx"
	"golang.org/x/crypto/ssh"
)

// buildTransport picks the Transport implementation matching the host's
// configured protocol bitmask, the way the supervisor's config reread
// assigns one protocol per host rather than negotiating at connect time.
func buildTransport(proto ssa.Protocol, host *ssa.HostStatus, job *config.JobDescriptor) (transport.Transport, error) {
	switch {
	case proto&ssa.ProtoFTP != 0:
		return ftp.New(host.AllowedTransfers, host.Options&ssa.OptPassiveFTP != 0), nil
	case proto&ssa.ProtoSFTP != 0:
		return sftp.New(ssh.InsecureIgnoreHostKey()), nil
	case proto&ssa.ProtoHTTP != 0, proto&ssa.ProtoHTTPS != 0:
		timeout := time.Duration(host.TransferTimeout) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		return httpx.New(timeout), nil
	case proto&ssa.ProtoLOC != 0:
		return local.New(), nil
	case proto&ssa.ProtoEXEC != 0:
		return execx.New(job.Path), nil
	case proto&ssa.ProtoSMTP != 0:
		return smtpx.New(job.User, []string{job.Path}), nil
	default:
		return nil, fmt.Errorf("transport: host %q has no recognized protocol bit set (%v)", host.Alias, proto)
	}
}
