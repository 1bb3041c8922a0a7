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
	"encoding/json"
	"os"
)

// Config for server
type Config struct {
	Listen     string `json:"listen"`
	Target     string `json:"target"`
	Key        string `json:"key"`
	Mode       string `json:"mode"`
	MTU        int    `json:"mtu"`
	SndWnd     int    `json:"sndwnd"`
	RcvWnd     int    `json:"rcvwnd"`
	NoComp     bool   `json:"nocomp"`
	SockBuf    int    `json:"sockbuf"`
	SmuxBuf    int    `json:"smuxbuf"`
	StreamBuf  int    `json:"streambuf"`
	FrameSize  int    `json:"framesize"`
	SmuxVer    int    `json:"smuxver"`
	KeepAlive  int    `json:"keepalive"`
	CloseWait  int    `json:"closewait"`
	Log        string `json:"log"`
	SnmpLog    string `json:"snmplog"`
	SnmpPeriod int    `json:"snmpperiod"`
	Pprof      bool   `json:"pprof"`
	Quiet      bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
