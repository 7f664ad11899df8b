// Package execnode 执行节点：注册与心跳、接收分发、执行脚本并回报结果
package execnode

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// machineIDPaths machine-id 的候选位置，按优先级排列
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// GenerateNodeID 生成确定性节点 ID
//
// 基于 machine-id 的 HMAC-SHA256，同一台机器重启后 ID 不变，且不直接暴露 machine-id。
// 回退顺序：machine-id、hostname + 第一个非回环 MAC、随机 UUID。
func GenerateNodeID() string {
	return nodeIDFrom(readMachineID(machineIDPaths))
}

func readMachineID(paths []string) string {
	for _, path := range paths {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	hostname, _ := os.Hostname()
	mac := firstMACAddress()
	if hostname != "" || mac != "" {
		return hostname + ":" + mac
	}
	return ""
}

func nodeIDFrom(machineID string) string {
	const appKey = "testexec-node-id-v1"
	if machineID == "" {
		return uuid.NewString()
	}
	h := hmac.New(sha256.New, []byte(appKey))
	h.Write([]byte(machineID))
	sum := h.Sum(nil)

	// 按 UUID v5 格式设置版本与变体位
	sum[6] = (sum[6] & 0x0f) | 0x50
	sum[8] = (sum[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}

func firstMACAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// DetectHost 返回第一个非回环 IPv4 地址，找不到时返回 127.0.0.1
func DetectHost() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
