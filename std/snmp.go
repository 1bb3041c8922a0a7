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

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Snmp accumulates the counters the CLI tools report through SnmpLogger.
// The core ARQ state machine lives behind the rconn.Connection/Socket
// boundary, so these counters are the ones the tunnel layer itself can
// observe directly: bytes relayed in each direction and streams opened.
var Snmp snmpCounters

type snmpCounters struct {
	BytesSent         uint64
	BytesReceived     uint64
	WireBytesSent     uint64 // post-compression, as written to the wire
	WireBytesReceived uint64 // pre-decompression, as read off the wire
	StreamsOpened     uint64
}

// AddBytesSent records n bytes written toward the remote peer.
func (c *snmpCounters) AddBytesSent(n int64) {
	if n > 0 {
		atomic.AddUint64(&c.BytesSent, uint64(n))
	}
}

// AddBytesReceived records n bytes read from the remote peer.
func (c *snmpCounters) AddBytesReceived(n int64) {
	if n > 0 {
		atomic.AddUint64(&c.BytesReceived, uint64(n))
	}
}

// AddWireBytesSent records n compressed bytes written to the wire.
func (c *snmpCounters) AddWireBytesSent(n int64) {
	if n > 0 {
		atomic.AddUint64(&c.WireBytesSent, uint64(n))
	}
}

// AddWireBytesReceived records n compressed bytes read off the wire.
func (c *snmpCounters) AddWireBytesReceived(n int64) {
	if n > 0 {
		atomic.AddUint64(&c.WireBytesReceived, uint64(n))
	}
}

// AddStreamOpened counts one more multiplexed stream having been opened.
func (c *snmpCounters) AddStreamOpened() {
	atomic.AddUint64(&c.StreamsOpened, 1)
}

// Copy takes a consistent-enough snapshot for logging.
func (c *snmpCounters) Copy() snmpCounters {
	return snmpCounters{
		BytesSent:         atomic.LoadUint64(&c.BytesSent),
		BytesReceived:     atomic.LoadUint64(&c.BytesReceived),
		WireBytesSent:     atomic.LoadUint64(&c.WireBytesSent),
		WireBytesReceived: atomic.LoadUint64(&c.WireBytesReceived),
		StreamsOpened:     atomic.LoadUint64(&c.StreamsOpened),
	}
}

// Header names the columns ToSlice reports, in order.
func (c *snmpCounters) Header() []string {
	return []string{"BytesSent", "BytesReceived", "WireBytesSent", "WireBytesReceived", "StreamsOpened"}
}

// ToSlice snapshots the counters as strings for CSV serialization.
func (c *snmpCounters) ToSlice() []string {
	snap := c.Copy()
	return []string{
		fmt.Sprint(snap.BytesSent),
		fmt.Sprint(snap.BytesReceived),
		fmt.Sprint(snap.WireBytesSent),
		fmt.Sprint(snap.WireBytesReceived),
		fmt.Sprint(snap.StreamsOpened),
	}
}

// SnmpLogger periodically appends a CSV row of Snmp's counters to path,
// formatting path itself as a time.Format layout so operators can roll
// daily log files (e.g. "./snmp-20060102.log").
func SnmpLogger(path string, interval int) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, Snmp.Header()...)); err != nil {
				log.Println(err)
			}
		}
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, Snmp.ToSlice()...)); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}
