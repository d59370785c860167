package client

import "testing"

func TestPeerAddressUrl(t *testing.T) {
	cases := []struct {
		addr     PeerAddress
		expected string
	}{
		{Peer("broker", 5555), "tcp://broker:5555"},
		{IPCPeer("/run/titanic/frontend"), "ipc:///run/titanic/frontend"},
		{Endpoint("inproc://frontend"), "inproc://frontend"},
	}

	for _, c := range cases {
		if url := c.addr.ToUrl(); url != c.expected {
			t.Errorf("expected %s, got %s", c.expected, url)
		}
	}

	a, b := IPCPeer("/tmp/a"), IPCPeer("/tmp/a")
	if !a.equals(b) || a.equals(IPCPeer("/tmp/b")) {
		t.Error("address comparison is wrong")
	}
}
