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

// dial opens a fresh UDP socket bound to an ephemeral local port and
// starts an actively-opening Socket against config.RemoteAddr.
func dial(config *Config, cfg rconn.Config) (*socket.Socket, error) {
	remote, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve remote address")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}

	return socket.Dial(conn, remote, cfg), nil
}
