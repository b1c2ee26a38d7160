package util

import (
	"bufio"
	"os"
	"runtime"
	"strings"
)

// SystemInfo describes the host fleetscan runs on.
type SystemInfo struct {
	OS        string `json:"os"`
	OSVersion string `json:"os_version"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname"`
	NumCPU    int    `json:"num_cpu"`
}

// GetSystemInfo returns host details for the banner and /healthz.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}
	info.Hostname, _ = os.Hostname()
	info.OSVersion = osVersion()
	return info
}

func osVersion() string {
	if runtime.GOOS != "linux" {
		return runtime.GOOS
	}
	return parseOSRelease("/etc/os-release")
}

// parseOSRelease returns PRETTY_NAME, or NAME plus VERSION, from an
// os-release file. Falls back to "Linux".
func parseOSRelease(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "Linux"
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(val, `"'`)
	}

	switch {
	case fields["PRETTY_NAME"] != "":
		return fields["PRETTY_NAME"]
	case fields["NAME"] != "" && fields["VERSION"] != "":
		return fields["NAME"] + " " + fields["VERSION"]
	case fields["NAME"] != "":
		return fields["NAME"]
	}
	return "Linux"
}
