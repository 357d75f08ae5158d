// Package sandbox provides the permission model and containment profile
// derivation for plugins.
package sandbox

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// Kind identifies a permission variant.
type Kind int

// Permission kinds.
const (
	// KindNetwork allows access to all network hosts.
	KindNetwork Kind = iota

	// KindNetworkHost allows access to a specific host.
	KindNetworkHost

	// KindNetworkLocalhost allows access to localhost only.
	KindNetworkLocalhost

	// KindFilesystem allows full filesystem access.
	KindFilesystem

	// KindFilesystemHome allows read access to the home directory.
	KindFilesystemHome

	// KindFilesystemRead allows read access to a specific path.
	KindFilesystemRead

	// KindFilesystemWrite allows read and write access to a specific path.
	KindFilesystemWrite

	// KindFilesystemDownloads allows access to the downloads folder.
	KindFilesystemDownloads

	// KindFilesystemDocuments allows access to the documents folder.
	KindFilesystemDocuments

	// KindFilesystemPictures allows access to the pictures folder.
	KindFilesystemPictures

	// KindSystemInfo allows reading CPU, memory, and system information.
	KindSystemInfo

	// KindNotifications allows reading system notifications.
	KindNotifications

	// KindNotificationsSend allows sending notifications.
	KindNotificationsSend

	// KindClipboard allows reading the clipboard.
	KindClipboard

	// KindClipboardWrite allows writing to the clipboard.
	KindClipboardWrite

	// KindDBusSession allows access to the session bus.
	KindDBusSession

	// KindDBusSystem allows access to the system bus.
	KindDBusSystem

	// KindDBusName allows access to a specific well-known bus name.
	KindDBusName

	// KindSpawnProcess allows spawning child processes.
	KindSpawnProcess

	// KindOwnData allows access to the plugin's own data directory.
	KindOwnData
)

// Permission is a single declared access right. Kinds that target a
// specific host, path, or bus name carry the target in Arg; the Arg is
// normalized at construction so equal rights compare equal.
type Permission struct {
	Kind Kind
	Arg  string
}

// Network grants access to all hosts.
func Network() Permission { return Permission{Kind: KindNetwork} }

// NetworkHost grants access to a specific host.
func NetworkHost(host string) Permission {
	return Permission{Kind: KindNetworkHost, Arg: normalizeHost(host)}
}

// NetworkLocalhost grants access to localhost only.
func NetworkLocalhost() Permission { return Permission{Kind: KindNetworkLocalhost} }

// Filesystem grants full filesystem access.
func Filesystem() Permission { return Permission{Kind: KindFilesystem} }

// FilesystemHome grants read access to the user home directory.
func FilesystemHome() Permission { return Permission{Kind: KindFilesystemHome} }

// FilesystemRead grants read access to a path.
func FilesystemRead(path string) Permission {
	return Permission{Kind: KindFilesystemRead, Arg: normalizePath(path)}
}

// FilesystemWrite grants read and write access to a path.
func FilesystemWrite(path string) Permission {
	return Permission{Kind: KindFilesystemWrite, Arg: normalizePath(path)}
}

// FilesystemDownloads grants access to the downloads folder.
func FilesystemDownloads() Permission { return Permission{Kind: KindFilesystemDownloads} }

// FilesystemDocuments grants access to the documents folder.
func FilesystemDocuments() Permission { return Permission{Kind: KindFilesystemDocuments} }

// FilesystemPictures grants access to the pictures folder.
func FilesystemPictures() Permission { return Permission{Kind: KindFilesystemPictures} }

// SystemInfo grants read access to system information.
func SystemInfo() Permission { return Permission{Kind: KindSystemInfo} }

// Notifications grants read access to system notifications.
func Notifications() Permission { return Permission{Kind: KindNotifications} }

// NotificationsSend grants the right to send notifications.
func NotificationsSend() Permission { return Permission{Kind: KindNotificationsSend} }

// Clipboard grants read access to the clipboard.
func Clipboard() Permission { return Permission{Kind: KindClipboard} }

// ClipboardWrite grants write access to the clipboard.
func ClipboardWrite() Permission { return Permission{Kind: KindClipboardWrite} }

// DBusSession grants access to the session bus.
func DBusSession() Permission { return Permission{Kind: KindDBusSession} }

// DBusSystem grants access to the system bus.
func DBusSystem() Permission { return Permission{Kind: KindDBusSystem} }

// DBusName grants access to a specific well-known bus name.
func DBusName(name string) Permission {
	return Permission{Kind: KindDBusName, Arg: name}
}

// SpawnProcess grants the right to spawn child processes.
func SpawnProcess() Permission { return Permission{Kind: KindSpawnProcess} }

// OwnData grants access to the plugin's own data directory.
func OwnData() Permission { return Permission{Kind: KindOwnData} }

// Implies returns true if holding p satisfies a query for other.
// Broader grants satisfy narrower ones: blanket network covers any
// host, blanket filesystem covers any path, write covers read on the
// same path, and session bus covers individual names except the
// systemd control names.
func (p Permission) Implies(other Permission) bool {
	if p == other {
		return true
	}

	switch p.Kind {
	case KindNetwork:
		return other.Kind == KindNetworkHost || other.Kind == KindNetworkLocalhost

	case KindFilesystem:
		switch other.Kind {
		case KindFilesystemHome, KindFilesystemRead, KindFilesystemWrite,
			KindFilesystemDownloads, KindFilesystemDocuments, KindFilesystemPictures:
			return true
		}

	case KindFilesystemWrite:
		return other.Kind == KindFilesystemRead && other.Arg == p.Arg

	case KindNotificationsSend:
		return other.Kind == KindNotifications

	case KindClipboardWrite:
		return other.Kind == KindClipboard

	case KindDBusSession:
		return other.Kind == KindDBusName &&
			!strings.HasPrefix(other.Arg, "org.freedesktop.systemd")
	}

	return false
}

// IsDangerous returns true for permissions that warrant explicit user
// attention before being granted.
func (p Permission) IsDangerous() bool {
	switch p.Kind {
	case KindFilesystem, KindDBusSystem, KindSpawnProcess:
		return true
	}
	return false
}

// String returns the textual form used in manifests.
func (p Permission) String() string {
	name := kindNames[p.Kind]
	if p.Arg != "" {
		return name + ":" + p.Arg
	}
	return name
}

var kindNames = map[Kind]string{
	KindNetwork:             "network",
	KindNetworkHost:         "network-host",
	KindNetworkLocalhost:    "network-localhost",
	KindFilesystem:          "filesystem",
	KindFilesystemHome:      "filesystem-home",
	KindFilesystemRead:      "filesystem-read",
	KindFilesystemWrite:     "filesystem-write",
	KindFilesystemDownloads: "filesystem-downloads",
	KindFilesystemDocuments: "filesystem-documents",
	KindFilesystemPictures:  "filesystem-pictures",
	KindSystemInfo:          "system-info",
	KindNotifications:       "notifications",
	KindNotificationsSend:   "notifications-send",
	KindClipboard:           "clipboard",
	KindClipboardWrite:      "clipboard-write",
	KindDBusSession:         "dbus-session",
	KindDBusSystem:          "dbus-system",
	KindDBusName:            "dbus-name",
	KindSpawnProcess:        "spawn-process",
	KindOwnData:             "own-data",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// argKinds are kinds that require an argument.
var argKinds = map[Kind]bool{
	KindNetworkHost:     true,
	KindFilesystemRead:  true,
	KindFilesystemWrite: true,
	KindDBusName:        true,
}

// Parse parses the textual form of a permission ("network",
// "filesystem-read:/etc", "dbus-name:org.lumen.Shell").
func Parse(s string) (Permission, error) {
	name := s
	arg := ""
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		name = s[:idx]
		arg = s[idx+1:]
	}

	kind, ok := kindsByName[name]
	if !ok {
		return Permission{}, fmt.Errorf("unknown permission %q", s)
	}
	if argKinds[kind] && arg == "" {
		return Permission{}, fmt.Errorf("permission %q requires an argument", name)
	}
	if !argKinds[kind] && arg != "" {
		return Permission{}, fmt.Errorf("permission %q takes no argument", name)
	}

	switch kind {
	case KindNetworkHost:
		return NetworkHost(arg), nil
	case KindFilesystemRead:
		return FilesystemRead(arg), nil
	case KindFilesystemWrite:
		return FilesystemWrite(arg), nil
	case KindDBusName:
		return DBusName(arg), nil
	default:
		return Permission{Kind: kind}, nil
	}
}

// normalizePath returns an absolute, clean path.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// normalizeHost lowercases a host and strips any port.
// Handles bracketed IPv6 addresses like [::1]:8080.
func normalizeHost(host string) string {
	return strings.ToLower(extractHost(host))
}

// extractHost extracts the host from a host:port string.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}

	// Bracketed IPv6 address without a port: [::1]
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}

	return hostPort
}

// isWithinPath checks if target is within or equal to base using filepath.Rel.
// This properly handles edge cases like "/tmp/allowed" not matching "/tmp/allowedfile".
func isWithinPath(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// matchHost checks if a host matches a pattern (case-insensitive).
// Supports "*" for any host and "*.example.com" style wildcards.
func matchHost(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if pattern == "*" || host == pattern {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix)
	}

	return false
}
