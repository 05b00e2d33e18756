package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Discovery constants, adapted from LanDrop/p2p/constants.go's
// DiscoveryPort/DiscoveryMsg/ReplyTimeout.
const (
	discoveryPort = 8888
	discoveryMsg  = "PEERDROP_DISCOVER"
	replyTimeout  = 2 * time.Second
)

// peer is a discovered host advertising a peerdropd listener.
type peer struct {
	Hostname string `json:"hostname"`
	Addr     string `json:"addr"`
}

// discoverPeers broadcasts a discovery message and collects replies for
// replyTimeout, adapted from LanDrop/p2p/discovery.go's DiscoverPeers.
func discoverPeers(logger *zap.Logger) map[string]peer {
	localAddr, err := net.ResolveUDPAddr("udp", ":0")
	if err != nil {
		logger.Warn("resolve local udp address", zap.Error(err))
		return nil
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		logger.Warn("listen for udp replies", zap.Error(err))
		return nil
	}
	defer conn.Close()

	broadcastAddr, err := net.ResolveUDPAddr("udp", udpBroadcastAddr(discoveryPort))
	if err != nil {
		logger.Warn("resolve broadcast address", zap.Error(err))
		return nil
	}
	if _, err := conn.WriteToUDP([]byte(discoveryMsg), broadcastAddr); err != nil {
		logger.Warn("send discovery broadcast", zap.Error(err))
		return nil
	}

	peers := make(map[string]peer)
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(replyTimeout))

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			logger.Debug("read udp reply", zap.Error(err))
			break
		}
		var p peer
		if err := json.Unmarshal(buf[:n], &p); err == nil {
			peers[p.Hostname] = p
		}
	}
	return peers
}

// listenForDiscovery replies to discovery broadcasts with this host's
// QUIC listen address, adapted from LanDrop/p2p/discovery.go's
// ListenForDiscovery.
func listenForDiscovery(quicPort string, logger *zap.Logger) {
	addr, err := net.ResolveUDPAddr("udp", ":"+strconv.Itoa(discoveryPort))
	if err != nil {
		logger.Warn("resolve discovery listen address", zap.Error(err))
		return
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		logger.Debug("discovery port unavailable, skipping", zap.Error(err))
		return
	}
	defer conn.Close()

	hostname, _ := os.Hostname()
	buf := make([]byte, 2048)

	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if string(buf[:n]) != discoveryMsg {
			continue
		}
		reply := peer{Hostname: hostname, Addr: localIP() + ":" + quicPort}
		replyBytes, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		conn.WriteToUDP(replyBytes, remote)
	}
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func udpBroadcastAddr(port int) string {
	return fmt.Sprintf("255.255.255.255:%d", port)
}
