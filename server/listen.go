// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"net"

	"github.com/pkg/errors"

	"github.com/rdtproto/rdt/rconn"
	"github.com/rdtproto/rdt/socket"
)

// listen binds a UDP socket at config.Listen and wraps it in a passive
// Listener. The caller owns the returned net.PacketConn: close it once
// the accepted Socket is done to rebind for the next client, since a
// Listener may only ever Accept once per underlying PacketConn.
func listen(config *Config, cfg rconn.Config) (*socket.Listener, net.PacketConn, error) {
	addr, err := net.ResolveUDPAddr("udp", config.Listen)
	if err != nil {
		return nil, nil, errors.Wrap(err, "resolve listen address")
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "listen udp")
	}

	return socket.Listen(conn, cfg), conn, nil
}
