// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package transport

import (
	"net"
	"time"
)

// deadlineConn bounds every write by writeTimeout and every wait for data by
// readTimeout. A write also extends the read deadline, so a response is always
// given the full read timeout after the request body was sent.
type deadlineConn struct {
	net.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	if err == nil && c.readTimeout > 0 {
		err = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return n, err
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}
