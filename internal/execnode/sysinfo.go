package execnode

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"testexec-platform/internal/shared/model"
)

// SystemInfo 注册时上报的主机信息
type SystemInfo struct {
	OS     string
	CPU    string
	Memory string
}

// CollectSystemInfo 采集操作系统、CPU 与内存信息，读取失败的项留空
func CollectSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:  runtime.GOOS + "/" + runtime.GOARCH,
		CPU: fmt.Sprintf("%d cores", runtime.NumCPU()),
	}
	if name := osRelease("/etc/os-release"); name != "" {
		info.OS = name + " (" + info.OS + ")"
	}
	if cpu := cpuModel("/proc/cpuinfo"); cpu != "" {
		info.CPU = cpu + ", " + info.CPU
	}
	if kb := memTotalKB("/proc/meminfo"); kb > 0 {
		info.Memory = fmt.Sprintf("%.1f GB", float64(kb)/1024/1024)
	}
	return info
}

// Apply 填充注册请求
func (s SystemInfo) Apply(reg *model.NodeRegistration) {
	reg.OSInfo = s.OS
	reg.CPUInfo = s.CPU
	reg.MemoryInfo = s.Memory
}

func osRelease(path string) string {
	v := scanKey(path, "PRETTY_NAME", "=")
	return strings.Trim(v, `"`)
}

func cpuModel(path string) string {
	return scanKey(path, "model name", ":")
}

func memTotalKB(path string) int64 {
	v := strings.TrimSuffix(scanKey(path, "MemTotal", ":"), " kB")
	kb, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return kb
}

// scanKey 返回 key<sep>value 形式文件中第一个匹配 key 的值
func scanKey(path, key, sep string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), sep)
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
