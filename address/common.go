/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package address

import (
	"net"
	"strconv"
	"strings"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrResolveTCPAddress = errors.New("resolve tcp address")
)

// Normalize completes a listen address: an empty host becomes 0.0.0.0,
// an empty port becomes 0 (chosen by the kernel), brackets are added to IPv6 hosts.
func Normalize(address string) string {
	var host, port string

	switch true {
	case len(address) == 0:

	case IsValidIP(address):
		host = address

	case address[0] == '[':
		if index := strings.IndexByte(address, ']'); index != -1 {
			host = address[1:index]
			port = strings.TrimPrefix(address[index+1:], ":")
		}

	case strings.Count(address, ":") == 1:
		index := strings.IndexByte(address, ':')
		host, port = address[:index], address[index+1:]

	default:
		host = address
	}

	if len(host) == 0 {
		host = "0.0.0.0"
	}
	if len(port) == 0 {
		port = "0"
	}
	return net.JoinHostPort(host, port)
}

func JoinHostPort(host string, port uint16) string {
	return Normalize(net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10)))
}

// Sockaddr resolves a listen address to a socket address and its family.
func Sockaddr(address string) (unix.Sockaddr, int, error) {
	addr, err := net.ResolveTCPAddr("tcp", Normalize(address))
	if err != nil {
		return nil, 0, errors.Wrap(err, ErrResolveTCPAddress)
	}

	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if len(addr.Zone) > 0 {
		if ifi, e := net.InterfaceByName(addr.Zone); e == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, unix.AF_INET6, nil
}

func FromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]).To16(), Port: v.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
		if v.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(v.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	default:
		return nil
	}
}

func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
