// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsconn

import (
	"fmt"
	"net"
)

// ConnID derives a human-readable, immutable connection identity from
// local and remote socket addresses: "lip:lport->rip:rport".
func ConnID(local, remote net.Addr) string {
	return fmt.Sprintf("%s->%s", addrString(local), addrString(remote))
}

func addrString(a net.Addr) string {
	if a == nil {
		return "?"
	}
	return a.String()
}
